package domain

// AuthParams identifies this participant to the signaling service.
type AuthParams struct {
	DeviceToken string `json:"device_token" yaml:"device_token"`
}

// ConnectOptions overrides signaling connection defaults.
type ConnectOptions struct {
	WebsocketURL string `json:"websocket_url" yaml:"websocket_url"`
}

// PublishResponse is the relay's answer to a publish offer.
type PublishResponse struct {
	StreamID  StreamID `json:"streamId"`
	SDPAnswer string   `json:"sdpAnswer"`
}

// SubscribeResponse is the relay's answer to a subscribe offer.
type SubscribeResponse struct {
	StreamID  StreamID `json:"streamId"`
	SDPAnswer string   `json:"sdpAnswer"`
}
