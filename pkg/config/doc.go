// Package config loads the gateway configuration.
//
// Values start from Default, are overlaid by the YAML file named in
// AIMO_CONFIG_FILE (if any) and finally by AIMO_* environment variables, then
// checked by Validate. Only the JWT secret has no usable default.
//
// Common variables:
//
//	AIMO_PORT, AIMO_HEALTH_PORT, AIMO_BASE_PATH
//	AIMO_JWT_SECRET, AIMO_JWT_ALGORITHM, AIMO_JWT_EXPIRE_DAYS, AIMO_DEFAULT_QUOTA
//	AIMO_ADMIN_API_KEY
//	AIMO_INVITATION_EXPIRE_DAYS, AIMO_INVITATION_BOUND_EXPIRE_DAYS
//	AIMO_USAGE_TIMEZONE, AIMO_USAGE_ATOMIC
//	AIMO_POSTGRES_URL, AIMO_REDIS_URL
//	AIMO_COMPLETION_URL, AIMO_COMPLETION_API_KEY, AIMO_CLASSIFIER_URL
//	AIMO_LISTMONK_URL, AIMO_LISTMONK_API_KEY, AIMO_LISTMONK_TEMPLATE_ID
//	AIMO_PRIVY_APP_ID, AIMO_PRIVY_APP_SECRET
//	AIMO_LOG_LEVEL, AIMO_OTEL_ENABLED, AIMO_OTEL_ENDPOINT
package config
