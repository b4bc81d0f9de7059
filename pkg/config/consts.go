package config

const (
	// EnvPrefix is passed to envconfig.Process; individual fields carry the
	// fully-qualified variable names so the prefix mostly serves docs.
	EnvPrefix = "PARCELPEER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PARCELPEER_APP_ENV"
	EnvPort     = "PARCELPEER_APP_PORT"
	EnvLogLevel = "PARCELPEER_LOG_LEVEL"

	EnvDBDSN      = "PARCELPEER_DB_DSN"
	EnvDBHost     = "PARCELPEER_DB_HOST"
	EnvDBPort     = "PARCELPEER_DB_PORT"
	EnvDBUser     = "PARCELPEER_DB_USER"
	EnvDBPassword = "PARCELPEER_DB_PASSWORD"
	EnvDBName     = "PARCELPEER_DB_NAME"

	EnvRedisURL = "PARCELPEER_REDIS_URL"

	EnvJWTSecret  = "PARCELPEER_JWT_SECRET"
	EnvJWTIssuer  = "PARCELPEER_JWT_ISSUER"
	EnvJWTExpMins = "PARCELPEER_JWT_EXPIRATION_MINUTES"

	EnvQRSecret = "PARCELPEER_QR_SIGNING_SECRET"

	EnvGCPProjectID = "PARCELPEER_GCP_PROJECT_ID"

	EnvPubSubDomainTopic      = "PARCELPEER_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub        = "PARCELPEER_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvPubSubNotificationSub  = "PARCELPEER_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubNotificationTopic = "PARCELPEER_PUBSUB_NOTIFICATION_TOPIC"
)

// legacyDBEnvVars are the variables that must all be present when
// PARCELPEER_DB_DSN is not set.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
