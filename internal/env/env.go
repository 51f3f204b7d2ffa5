package env

import (
	"os"
	"strings"
)

const (
	environmentVariableNameStorageURL = "OS_STORAGE_URL"
	environmentVariableNameAuthToken  = "OS_AUTH_TOKEN"
	environmentVariableNameConfigFile = "SWIFTSINK_CONFIG_FILE"
	environmentVariableNameProfile    = "SWIFTSINK_PROFILE"
	environmentVariableNameDebug      = "SWIFTSINK_DEBUG"
)

func StorageURLFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameStorageURL))
}

func AuthTokenFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameAuthToken))
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameProfile)
}

func DebugModeFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameDebug))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}
