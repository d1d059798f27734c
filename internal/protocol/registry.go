package protocol

import "fmt"

// ProviderGroup maps (state, packet id) to a decoder for one protocol era.
// Groups are built once and never mutated, so they are shared freely.
type ProviderGroup struct {
	name   string
	tables [StateClosed + 1][]Decoder
}

// NewProviderGroup copies tables into a new group. A state absent from
// tables accepts no packets.
func NewProviderGroup(name string, tables map[State][]Decoder) *ProviderGroup {
	g := &ProviderGroup{name: name}
	for state, decoders := range tables {
		if state < 0 || state > StateClosed {
			panic(fmt.Sprintf("provider group %s: invalid state %d", name, state))
		}
		g.tables[state] = append([]Decoder(nil), decoders...)
	}
	return g
}

// Name identifies the group in logs.
func (g *ProviderGroup) Name() string {
	return g.name
}

// Lookup returns the decoder for id in state. A nil decoder with a nil error
// means the packet is unknown and should be skipped.
func (g *ProviderGroup) Lookup(state State, id int32) (Decoder, error) {
	if state < 0 || state > StateClosed || g.tables[state] == nil {
		return nil, &Error{Kind: ErrIllegalState, Msg: fmt.Sprintf("group %s has no packets for state %s", g.name, state)}
	}
	table := g.tables[state]
	if id < 0 || int(id) >= len(table) {
		return nil, nil
	}
	return table[id], nil
}

// GroupSelector picks the provider group for a client protocol version.
type GroupSelector func(protocol int32) *ProviderGroup

// Registry holds the provider groups for every supported protocol era.
type Registry struct {
	preCookie *ProviderGroup
	cookie    *ProviderGroup
	dialog    *ProviderGroup
}

// NewRegistry builds the provider groups.
func NewRegistry() *Registry {
	handshake := []Decoder{decodeHandshake}
	status := []Decoder{decodeStatusRequest, decodePingRequest}

	preCookieLogin := []Decoder{
		IDLoginStart:          decodeLoginStart,
		IDLoginPluginResponse: decodeLoginPluginResponse,
		IDLoginAcknowledged:   decodeLoginAcknowledged,
	}
	cookieLogin := append(append([]Decoder(nil), preCookieLogin...), decodeCookieResponse(StateLogin))

	preCookieConfig := []Decoder{
		decodeClientInformation,
		decodePluginMessage,
		decodeAcknowledgeFinishConfiguration,
		decodeServerboundKeepAlive,
		decodePong,
		decodeResourcePackResponse,
	}
	cookieConfig := []Decoder{
		decodeClientInformation,
		decodeCookieResponse(StateConfig),
		decodePluginMessage,
		decodeAcknowledgeFinishConfiguration,
		decodeServerboundKeepAlive,
		decodePong,
		decodeResourcePackResponse,
		decodeKnownPacks,
	}
	dialogConfig := append(append([]Decoder(nil), cookieConfig...), decodeCustomClickAction)

	return &Registry{
		preCookie: NewProviderGroup("pre-cookie", map[State][]Decoder{
			StateHandshake: handshake,
			StateStatus:    status,
			StateLogin:     preCookieLogin,
			StateConfig:    preCookieConfig,
		}),
		cookie: NewProviderGroup("cookie", map[State][]Decoder{
			StateHandshake: handshake,
			StateStatus:    status,
			StateLogin:     cookieLogin,
			StateConfig:    cookieConfig,
		}),
		dialog: NewProviderGroup("dialog", map[State][]Decoder{
			StateHandshake: handshake,
			StateStatus:    status,
			StateLogin:     cookieLogin,
			StateConfig:    dialogConfig,
		}),
	}
}

// Select is a GroupSelector. Versions older than the supported range fall
// back to the oldest group, which is enough to answer a status ping.
func (r *Registry) Select(protocol int32) *ProviderGroup {
	switch {
	case protocol >= ProtocolDialogs:
		return r.dialog
	case protocol >= ProtocolCookies:
		return r.cookie
	default:
		return r.preCookie
	}
}

// DefaultSelector returns the selector backed by a fresh Registry.
func DefaultSelector() GroupSelector {
	return NewRegistry().Select
}
