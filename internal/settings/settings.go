package settings

// Provider exposes the identity of the host application.
type Provider interface {
	AppID() string
	SDKVersion() string
}

// Static is a Provider with fixed values, typically built from config.
type Static struct {
	ApplicationID string
	Version       string
}

// NewStatic returns a Provider for appID and sdkVersion.
func NewStatic(appID, sdkVersion string) *Static {
	return &Static{ApplicationID: appID, Version: sdkVersion}
}

func (s *Static) AppID() string { return s.ApplicationID }
func (s *Static) SDKVersion() string { return s.Version }
