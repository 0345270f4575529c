package config

// ConfigBackend is the persistent layer under the defaults and above
// nothing: values found here are overridden by environment variables.
// Keys are the dotted names of the keySpec table. ok reports whether the
// key is present; err reports a present but unreadable value.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
