package proto

// Hello is the first frame a dialing endpoint sends so the acceptor learns who is calling.
type Hello struct {
	From     string `json:"from"`
	Protocol int    `json:"protocol,omitempty"`
}
