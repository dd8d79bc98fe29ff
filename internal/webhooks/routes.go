package webhooks

import (
	"campaign-engine/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Register mounts every provider callback on g. Signature checks belong on g.
func (h Handlers) Register(g gin.IRoutes) {
	g.POST(telephony.PathVoice, h.Voice)
	g.POST(telephony.PathStatus, h.Status)
	g.POST(telephony.PathAMD, h.AMD)
	g.POST(telephony.PathConference, h.ConferenceEvent)
	g.POST(telephony.PathIVR, h.IVRStep)
}
