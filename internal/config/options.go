package config

// ValidModes lists the deployment modes.
var ValidModes = []string{"auth", "demo"}

// DefaultMode gates the dashboard behind sign-in.
const DefaultMode = "auth"

// ValidSessionBackends lists where the current session can be persisted.
var ValidSessionBackends = []string{"memory", "redis"}

// DefaultSessionBackend keeps the session in process memory.
const DefaultSessionBackend = "memory"

// ValidHashAlgos lists the password hash algorithms used for new accounts.
// Verification accepts any supported encoding regardless of this setting.
var ValidHashAlgos = []string{"bcrypt", "argon2id"}

// DefaultHashAlgo is used when hash_algo is unset or unknown.
const DefaultHashAlgo = "bcrypt"

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// IsValidMode reports whether mode is a known deployment mode.
func IsValidMode(mode string) bool {
	return contains(ValidModes, mode)
}

// ValidateMode returns mode if valid, otherwise DefaultMode.
func ValidateMode(mode string) string {
	if IsValidMode(mode) {
		return mode
	}
	return DefaultMode
}

// IsValidSessionBackend reports whether backend is a known session backend.
func IsValidSessionBackend(backend string) bool {
	return contains(ValidSessionBackends, backend)
}

// ValidateSessionBackend returns backend if valid, otherwise DefaultSessionBackend.
func ValidateSessionBackend(backend string) string {
	if IsValidSessionBackend(backend) {
		return backend
	}
	return DefaultSessionBackend
}

// IsValidHashAlgo reports whether algo can be used to hash new passwords.
func IsValidHashAlgo(algo string) bool {
	return contains(ValidHashAlgos, algo)
}

// ValidateHashAlgo returns algo if valid, otherwise DefaultHashAlgo.
func ValidateHashAlgo(algo string) string {
	if IsValidHashAlgo(algo) {
		return algo
	}
	return DefaultHashAlgo
}
