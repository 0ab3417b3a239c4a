package version

const (
	AppName    = "chatmind"
	AppVersion = "0.3.0"
)
