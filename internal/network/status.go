package network

import (
	"fmt"
	"sync"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/protocol"
)

// StatusResponseSource supplies the server list entry for a client protocol.
type StatusResponseSource interface {
	Status(protocol int32) protocol.ServerStatus
}

// configStatus builds the entry from the status section of the config.
type configStatus struct {
	cfg    *config.Config
	online func() int
}

// statusProtocol is the version a status response advertises to a client
// speaking version: its own when supported, the newest one otherwise.
func statusProtocol(version int32) int32 {
	if !protocol.IsSupported(version) {
		return protocol.MaxProtocol
	}
	return version
}

func (s configStatus) Status(version int32) protocol.ServerStatus {
	st := s.cfg.GetProxy().Status
	version = statusProtocol(version)
	name := st.VersionName
	if name == "" {
		name = protocol.VersionName(version)
	}
	return protocol.ServerStatus{
		Version:     protocol.StatusVersion{Name: name, Protocol: version},
		Players:     protocol.StatusPlayers{Max: st.MaxPlayers, Online: s.online()},
		Description: protocol.PlainText(st.MOTD),
		Favicon:     st.Favicon,
	}
}

// statusCache holds a status packet bucketed per supported protocol. It is
// rebuilt when the online count it was built for goes stale.
type statusCache struct {
	source  StatusResponseSource
	online  func() int
	observe func(string)

	mu       sync.Mutex
	packet   *protocol.ProtocolizedBuiltPacket
	builtFor int
}

func (s *statusCache) get() (*protocol.ProtocolizedBuiltPacket, error) {
	online := s.online()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packet != nil && s.builtFor == online {
		return s.packet, nil
	}

	packet, err := protocol.NewProtocolizedBuiltPacket(func(version int32) protocol.Packet {
		return &protocol.StatusResponse{Status: s.source.Status(version)}
	}, protocol.SupportedProtocols(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to build status cache: %w", err)
	}
	packet.SetObserver(s.observe)
	s.packet = packet
	s.builtFor = online
	return packet, nil
}

// invalidate drops the cached packet, for example after a config change.
func (s *statusCache) invalidate() {
	s.mu.Lock()
	s.packet = nil
	s.mu.Unlock()
}

// cachedPackets are the disconnect and greeting packets shared by every
// connection.
type cachedPackets struct {
	unsupported       *protocol.BuiltPacket
	transfersDisabled *protocol.BuiltPacket
	shutdownLogin     *protocol.BuiltPacket
	shutdownConfig    *protocol.ProtocolizedBuiltPacket
	noTarget          *protocol.ProtocolizedBuiltPacket
	brand             *protocol.ProtocolizedBuiltPacket
}

// configDisconnectBreakpoints are the versions where the CONFIG disconnect
// layout changes: text turns into NBT, then the packet id moves.
var configDisconnectBreakpoints = []int32{
	protocol.Protocol1_20_2, protocol.ProtocolNBTText, protocol.ProtocolCookies,
}

func buildCachedPackets(msgs config.MessagesConfig, brand string, observe func(string)) (*cachedPackets, error) {
	login := func(text string) (*protocol.BuiltPacket, error) {
		return protocol.NewBuiltPacket(&protocol.LoginDisconnect{Reason: protocol.PlainText(text)}, protocol.MinProtocol)
	}
	configDisconnect := func(text string) (*protocol.ProtocolizedBuiltPacket, error) {
		reason := protocol.PlainText(text)
		return protocol.NewProtocolizedBuiltPacket(func(int32) protocol.Packet {
			return &protocol.ConfigDisconnect{Reason: reason}
		}, configDisconnectBreakpoints, false)
	}

	var (
		p   cachedPackets
		err error
	)
	if p.unsupported, err = login(msgs.UnsupportedVersion); err != nil {
		return nil, fmt.Errorf("unsupported version message: %w", err)
	}
	if p.transfersDisabled, err = login(msgs.TransfersDisabled); err != nil {
		return nil, fmt.Errorf("transfers disabled message: %w", err)
	}
	if p.shutdownLogin, err = login(msgs.Shutdown); err != nil {
		return nil, fmt.Errorf("shutdown message: %w", err)
	}
	if p.shutdownConfig, err = configDisconnect(msgs.Shutdown); err != nil {
		return nil, fmt.Errorf("shutdown message: %w", err)
	}
	if p.noTarget, err = configDisconnect(msgs.NoTarget); err != nil {
		return nil, fmt.Errorf("no target message: %w", err)
	}

	w := protocol.NewWriter(len(brand) + protocol.MaxVarIntLen)
	w.WriteString(brand, protocol.DefaultStringLen)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("server brand: %w", err)
	}
	data := w.Bytes()
	p.brand, err = protocol.NewProtocolizedBuiltPacket(func(int32) protocol.Packet {
		return &protocol.ClientboundPluginMessage{Channel: brandChannel, Data: data}
	}, []int32{protocol.Protocol1_20_2, protocol.ProtocolCookies}, true)
	if err != nil {
		return nil, fmt.Errorf("server brand: %w", err)
	}

	for _, b := range []*protocol.ProtocolizedBuiltPacket{p.shutdownConfig, p.noTarget, p.brand} {
		b.SetObserver(observe)
	}
	return &p, nil
}
