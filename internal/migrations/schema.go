package migrations

// migrations is an ordered list of statement groups. Each group runs in one
// transaction; its version is the 1-based index into this slice. Append new
// groups, never edit applied ones.
var migrations = [][]string{
	// 1: core tables
	{
		`CREATE TABLE IF NOT EXISTS contact (
			id           TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			phone        TEXT NOT NULL,
			firstname    TEXT,
			surname      TEXT,
			address      TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contact_workspace ON contact (workspace_id)`,

		`CREATE TABLE IF NOT EXISTS script (
			id           TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name         TEXT NOT NULL DEFAULT '',
			steps        JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS campaign (
			id               TEXT PRIMARY KEY,
			workspace_id     TEXT NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			type             TEXT NOT NULL CHECK (type IN ('live_call', 'power_dial', 'ivr', 'message')),
			status           TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'pending', 'scheduled', 'running', 'paused', 'complete')),
			is_active        BOOLEAN NOT NULL DEFAULT FALSE,
			schedule         JSONB NOT NULL DEFAULT '{}'::jsonb,
			script_id        TEXT REFERENCES script (id),
			caller_id        TEXT NOT NULL DEFAULT '',
			voicedrop_audio  TEXT,
			group_households BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_active ON campaign (type) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_schedulable ON campaign (status) WHERE status IN ('scheduled', 'running')`,

		`CREATE TABLE IF NOT EXISTS campaign_queue (
			id            BIGSERIAL PRIMARY KEY,
			workspace_id  TEXT NOT NULL,
			campaign_id   TEXT NOT NULL REFERENCES campaign (id) ON DELETE CASCADE,
			contact_id    TEXT NOT NULL REFERENCES contact (id) ON DELETE CASCADE,
			queue_order   INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'queued',
			status_kind   TEXT NOT NULL DEFAULT 'queued' CHECK (status_kind IN ('queued', 'assigned', 'provider', 'dequeued')),
			attempts      INTEGER NOT NULL DEFAULT 0,
			household_key TEXT NOT NULL DEFAULT '',
			claimed_at    TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (campaign_id, contact_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_queue_next ON campaign_queue (campaign_id, queue_order, id) WHERE status_kind = 'queued'`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_queue_assigned ON campaign_queue (claimed_at) WHERE status_kind = 'assigned'`,

		`CREATE TABLE IF NOT EXISTS outreach_attempt (
			id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			workspace_id TEXT NOT NULL,
			contact_id   TEXT NOT NULL,
			campaign_id  TEXT NOT NULL REFERENCES campaign (id) ON DELETE CASCADE,
			user_id      TEXT,
			queue_id     BIGINT NOT NULL DEFAULT 0,
			disposition  TEXT NOT NULL DEFAULT 'initiated',
			result       JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outreach_attempt_pair ON outreach_attempt (contact_id, campaign_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_outreach_attempt_open ON outreach_attempt (campaign_id) WHERE disposition IN ('initiated', 'ringing', 'in-progress')`,

		`CREATE TABLE IF NOT EXISTS call (
			sid                 TEXT PRIMARY KEY,
			parent_call_sid     TEXT NOT NULL DEFAULT '',
			workspace_id        TEXT NOT NULL,
			campaign_id         TEXT NOT NULL DEFAULT '',
			contact_id          TEXT NOT NULL DEFAULT '',
			outreach_attempt_id TEXT NOT NULL DEFAULT '',
			queue_id            BIGINT NOT NULL DEFAULT 0,
			from_number         TEXT NOT NULL DEFAULT '',
			to_number           TEXT NOT NULL DEFAULT '',
			conference_name     TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			answered_by         TEXT NOT NULL DEFAULT '',
			started_at          TIMESTAMPTZ NOT NULL,
			answered_at         TIMESTAMPTZ,
			ended_at            TIMESTAMPTZ,
			duration            INTEGER NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_campaign_open ON call (campaign_id, sid) WHERE status NOT IN ('completed', 'failed', 'no-answer', 'busy', 'canceled')`,

		`CREATE TABLE IF NOT EXISTS audit_event (
			id            TEXT PRIMARY KEY,
			workspace_id  TEXT NOT NULL,
			action        TEXT NOT NULL,
			actor_user_id TEXT,
			actor_role    TEXT,
			ip_address    TEXT,
			campaign_id   TEXT,
			metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_event_workspace ON audit_event (workspace_id, created_at DESC)`,
	},

	// 2: stored procedures used by the queue and the attempt ledger
	{
		`CREATE OR REPLACE FUNCTION handle_campaign_queue_entry(
			p_workspace_id TEXT,
			p_campaign_id  TEXT,
			p_contact_id   TEXT,
			p_queue_order  INTEGER,
			p_household    TEXT,
			p_requeue      BOOLEAN
		) RETURNS VOID AS $$
		BEGIN
			INSERT INTO campaign_queue (workspace_id, campaign_id, contact_id, queue_order, household_key)
			VALUES (p_workspace_id, p_campaign_id, p_contact_id, p_queue_order, COALESCE(p_household, ''))
			ON CONFLICT (campaign_id, contact_id) DO UPDATE
			SET status = 'queued',
			    status_kind = 'queued',
			    queue_order = EXCLUDED.queue_order,
			    attempts = 0,
			    claimed_at = NULL,
			    updated_at = now()
			WHERE p_requeue;
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE OR REPLACE FUNCTION reset_campaign(p_campaign_id TEXT, p_at TIMESTAMPTZ)
		RETURNS INTEGER AS $$
		DECLARE
			n INTEGER;
		BEGIN
			UPDATE campaign_queue
			SET status = 'queued', status_kind = 'queued', attempts = 0, claimed_at = NULL, updated_at = p_at
			WHERE campaign_id = p_campaign_id;
			GET DIAGNOSTICS n = ROW_COUNT;
			RETURN n;
		END;
		$$ LANGUAGE plpgsql`,

		// The advisory lock serializes concurrent dials of the same pair so the
		// dedupe lookup and the insert see one another.
		`CREATE OR REPLACE FUNCTION create_outreach_attempt(
			p_workspace_id TEXT,
			p_contact_id   TEXT,
			p_campaign_id  TEXT,
			p_queue_id     BIGINT,
			p_user_id      TEXT,
			p_since        TIMESTAMPTZ,
			p_at           TIMESTAMPTZ
		) RETURNS SETOF outreach_attempt AS $$
		BEGIN
			PERFORM pg_advisory_xact_lock(hashtext(p_contact_id || '/' || p_campaign_id));

			RETURN QUERY
			SELECT * FROM outreach_attempt
			WHERE contact_id = p_contact_id AND campaign_id = p_campaign_id AND created_at >= p_since
			ORDER BY created_at DESC
			LIMIT 1;
			IF FOUND THEN
				RETURN;
			END IF;

			RETURN QUERY
			INSERT INTO outreach_attempt (workspace_id, contact_id, campaign_id, user_id, queue_id, created_at, updated_at)
			VALUES (p_workspace_id, p_contact_id, p_campaign_id, p_user_id, p_queue_id, p_at, p_at)
			RETURNING *;
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE OR REPLACE FUNCTION cancel_outreach_attempts(p_campaign_id TEXT, p_at TIMESTAMPTZ)
		RETURNS INTEGER AS $$
		DECLARE
			n INTEGER;
		BEGIN
			UPDATE outreach_attempt
			SET disposition = 'canceled', updated_at = p_at
			WHERE campaign_id = p_campaign_id AND disposition IN ('initiated', 'ringing', 'in-progress', '');
			GET DIAGNOSTICS n = ROW_COUNT;
			RETURN n;
		END;
		$$ LANGUAGE plpgsql`,
	},

	// 3: terminal bookkeeping marker for webhook recovery
	{
		`ALTER TABLE call ADD COLUMN IF NOT EXISTS finalized_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_call_unsettled ON call (campaign_id) WHERE finalized_at IS NULL AND status IN ('completed', 'failed', 'no-answer', 'busy', 'canceled')`,
	},
}
