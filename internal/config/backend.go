package config

// ConfigBackend persists settings between runs: UserDefaults on macOS, a JSON
// file elsewhere. A key that was never written reports ok=false. Durations
// are stored as strings in time.ParseDuration form.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}
