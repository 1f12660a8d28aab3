package postgres

// GetMigrations returns all embedded migrations for the analytics-owned
// tables. The platform's own tables (grades, attendances, homework, ...)
// are managed elsewhere; the source adapters only read them.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_risk_profiles",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_risk_indicators",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_alerts",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
		{
			Version: 4,
			Name:    "create_intervention_plans",
			UpSQL:   migration004Up,
			DownSQL: migration004Down,
		},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS risk_profiles (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	academic_year TEXT NOT NULL,

	risk_score DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
	risk_level TEXT NOT NULL DEFAULT 'very_low',
	academic_risk DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (academic_risk BETWEEN 0 AND 100),
	attendance_risk DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (attendance_risk BETWEEN 0 AND 100),
	behavioral_risk DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (behavioral_risk BETWEEN 0 AND 100),
	social_risk DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (social_risk BETWEEN 0 AND 100),

	dropout_probability DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (dropout_probability BETWEEN 0 AND 1),
	predicted_final_average DOUBLE PRECISION CHECK (predicted_final_average BETWEEN 0 AND 20),

	risk_factors JSONB NOT NULL DEFAULT '[]',
	indicators JSONB NOT NULL DEFAULT '{}',
	recommendations JSONB NOT NULL DEFAULT '[]',
	priority_actions JSONB NOT NULL DEFAULT '[]',

	is_monitored BOOLEAN NOT NULL DEFAULT FALSE,
	monitoring_started TIMESTAMPTZ,
	assigned_to TEXT,

	last_analysis TIMESTAMPTZ,
	analysis_version INTEGER NOT NULL DEFAULT 0,

	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

	UNIQUE (tenant_id, student_id, academic_year)
);

CREATE INDEX IF NOT EXISTS idx_risk_profiles_year_level
	ON risk_profiles (tenant_id, academic_year, risk_level);
CREATE INDEX IF NOT EXISTS idx_risk_profiles_stale
	ON risk_profiles (tenant_id, academic_year, last_analysis);
CREATE INDEX IF NOT EXISTS idx_risk_profiles_monitored
	ON risk_profiles (tenant_id, academic_year) WHERE is_monitored;
`

const migration001Down = `DROP TABLE IF EXISTS risk_profiles;`

const migration002Up = `
CREATE TABLE IF NOT EXISTS risk_indicators (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	indicator_type TEXT NOT NULL,
	threshold_value DOUBLE PRECISION NOT NULL,
	threshold_operator TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL CHECK (weight BETWEEN 0 AND 10),
	expression TEXT NOT NULL DEFAULT '',
	applicable_levels JSONB NOT NULL DEFAULT '[]',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	flagged_for_review BOOLEAN NOT NULL DEFAULT FALSE,
	review_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_risk_indicators_active
	ON risk_indicators (tenant_id) WHERE active;
`

const migration002Down = `DROP TABLE IF EXISTS risk_indicators;`

const migration003Up = `
CREATE TABLE IF NOT EXISTS alert_configurations (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	risk_level_threshold TEXT,
	risk_score_threshold DOUBLE PRECISION CHECK (risk_score_threshold BETWEEN 0 AND 100),
	indicator_conditions JSONB NOT NULL DEFAULT '[]',
	recipients JSONB NOT NULL DEFAULT '{}',
	channels JSONB NOT NULL DEFAULT '["in_app"]',
	cooldown_days INTEGER NOT NULL DEFAULT 0 CHECK (cooldown_days >= 0),
	message_template TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal',
	flagged_for_review BOOLEAN NOT NULL DEFAULT FALSE,
	review_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	profile_id UUID NOT NULL REFERENCES risk_profiles (id),
	config_id UUID NOT NULL REFERENCES alert_configurations (id),
	student_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	priority TEXT NOT NULL,
	notifications_sent JSONB NOT NULL DEFAULT '[]',
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
	acknowledged_by TEXT,
	acknowledged_at TIMESTAMPTZ,
	ack_notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_alerts_pair_latest
	ON alerts (profile_id, config_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_open
	ON alerts (tenant_id, created_at DESC) WHERE NOT acknowledged;
`

const migration003Down = `
DROP TABLE IF EXISTS alerts;
DROP TABLE IF EXISTS alert_configurations;
`

const migration004Up = `
CREATE TABLE IF NOT EXISTS intervention_plans (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	profile_id UUID NOT NULL REFERENCES risk_profiles (id),
	status TEXT NOT NULL DEFAULT 'draft',
	start_date DATE NOT NULL,
	end_date DATE,
	actual_end_date DATE,
	coordinator TEXT NOT NULL DEFAULT '',
	participants JSONB NOT NULL DEFAULT '[]',
	objectives JSONB NOT NULL DEFAULT '[]',
	actions JSONB NOT NULL DEFAULT '[]',
	success_criteria JSONB NOT NULL DEFAULT '[]',
	effectiveness_score DOUBLE PRECISION CHECK (effectiveness_score BETWEEN 0 AND 10),
	outcomes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_intervention_plans_profile
	ON intervention_plans (profile_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_intervention_plans_evaluable
	ON intervention_plans (tenant_id, status) WHERE status IN ('active', 'completed');
`

const migration004Down = `DROP TABLE IF EXISTS intervention_plans;`
