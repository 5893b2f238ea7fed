package models

// ProviderKind identifies an external video source system
type ProviderKind string

const (
	ProviderDropbox   ProviderKind = "dropbox"
	ProviderImou      ProviderKind = "imou"
	ProviderHikvision ProviderKind = "hikvision"
)

// IsOAuth reports whether the provider authenticates via OAuth2 rather
// than direct device credentials.
func (p ProviderKind) IsOAuth() bool {
	return p == ProviderDropbox || p == ProviderImou
}

// ContainerRef addresses a folder, device, or channel on a provider.
// ID is provider-native ("/warehouse/cam1", "deviceId/channelId", "1").
type ContainerRef struct {
	Provider ProviderKind `json:"provider"`
	ID       string       `json:"id"`
}

// Container represents one listable unit of content below a parent:
// a Dropbox folder, an Imou device or channel, or a Hikvision channel.
type Container struct {
	Ref      ContainerRef `json:"ref"`
	Name     string       `json:"name"`
	ParentID string       `json:"parent_id,omitempty"`
	// HasChildren is set when another ListContainers level exists below
	// (Imou devices expand into channels).
	HasChildren bool `json:"has_children"`
}
