// Package discovery implements the Participant Discovery Protocol
// (PDP, spec.md §4.6) and Endpoint Discovery Protocol (EDP, spec.md
// §4.7): learning peer participants and endpoints over the built-in
// RTPS endpoints, and matching compatible readers with writers.
//
// Grounded on the teacher's ClusterStore (controller/api/destination/
// watcher/cluster_store.go): a mutex-guarded map keyed by identity,
// populated and depopulated by event handlers, generalized here from
// "remote Kubernetes clusters" to "remote RTPS participants/endpoints".
package discovery

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/locator"
	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/wire"
)

// BuiltinEndpoint bits report which of a participant's built-in
// discovery endpoints are available (spec.md §4.7 "available_builtin_
// endpoints mask").
type BuiltinEndpoint uint32

const (
	BuiltinParticipantAnnouncer     BuiltinEndpoint = 1 << 0
	BuiltinParticipantDetector      BuiltinEndpoint = 1 << 1
	BuiltinPublicationsAnnouncer    BuiltinEndpoint = 1 << 2
	BuiltinPublicationsDetector     BuiltinEndpoint = 1 << 3
	BuiltinSubscriptionsAnnouncer   BuiltinEndpoint = 1 << 4
	BuiltinSubscriptionsDetector    BuiltinEndpoint = 1 << 5
)

// Has reports whether bit is set in the mask.
func (m BuiltinEndpoint) Has(bit BuiltinEndpoint) bool { return m&bit != 0 }

// ParticipantProxyData is the learned state about a remote
// participant (spec.md §3 "Participant proxy data").
type ParticipantProxyData struct {
	GUID                          guid.GUID
	AvailableBuiltinEndpoints     BuiltinEndpoint
	DefaultUnicastLocators        locator.List
	MetatrafficUnicastLocators    locator.List
	MetatrafficMulticastLocators  locator.List
	LeaseDuration                 time.Duration
	UserData                      []byte
	Disposed                      bool
}

// Encode serializes p as an RTPS discovery-data parameter list.
func (p ParticipantProxyData) Encode() []byte {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PIDParticipantGUID, Value: encodeGUID(p.GUID)})
	pl = append(pl, wire.Parameter{ID: wire.PIDBuiltinEndpointSet, Value: encodeUint32(uint32(p.AvailableBuiltinEndpoints))})
	pl = append(pl, wire.Parameter{ID: wire.PIDLeaseDuration, Value: encodeDuration(p.LeaseDuration)})
	for _, l := range p.DefaultUnicastLocators {
		pl = append(pl, wire.Parameter{ID: wire.PIDDefaultUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range p.MetatrafficUnicastLocators {
		pl = append(pl, wire.Parameter{ID: wire.PIDMetatrafficUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range p.MetatrafficMulticastLocators {
		pl = append(pl, wire.Parameter{ID: wire.PIDMetatrafficMulticastLocator, Value: encodeLocator(l)})
	}
	if p.Disposed {
		pl = append(pl, wire.Parameter{ID: wire.PIDStatusInfo, Value: []byte{0, 0, 0, 1}})
	}
	return pl.Encode(binary.BigEndian)
}

// DecodeParticipantProxyData parses the payload produced by Encode.
func DecodeParticipantProxyData(buf []byte) (ParticipantProxyData, error) {
	pl, _, err := wire.DecodeParameterList(binary.BigEndian, buf)
	if err != nil {
		return ParticipantProxyData{}, err
	}
	var p ParticipantProxyData
	if v, ok := pl.Get(wire.PIDParticipantGUID); ok {
		p.GUID = decodeGUID(v)
	}
	if v, ok := pl.Get(wire.PIDBuiltinEndpointSet); ok {
		p.AvailableBuiltinEndpoints = BuiltinEndpoint(binary.BigEndian.Uint32(v))
	}
	if v, ok := pl.Get(wire.PIDLeaseDuration); ok {
		p.LeaseDuration = decodeDuration(v)
	}
	for _, param := range pl {
		switch param.ID {
		case wire.PIDDefaultUnicastLocator:
			p.DefaultUnicastLocators = append(p.DefaultUnicastLocators, decodeLocator(param.Value))
		case wire.PIDMetatrafficUnicastLocator:
			p.MetatrafficUnicastLocators = append(p.MetatrafficUnicastLocators, decodeLocator(param.Value))
		case wire.PIDMetatrafficMulticastLocator:
			p.MetatrafficMulticastLocators = append(p.MetatrafficMulticastLocators, decodeLocator(param.Value))
		case wire.PIDStatusInfo:
			p.Disposed = len(param.Value) == 4 && param.Value[3]&0x01 != 0
		}
	}
	return p, nil
}

// EndpointProxyData is the learned state about a remote reader or
// writer (spec.md §3 "Reader/Writer proxy data"), as carried in SEDP
// publication/subscription DATA.
type EndpointProxyData struct {
	GUID              guid.GUID
	TopicName         string
	TypeName          string
	Reliability       qos.ReliabilityKind
	Durability        qos.DurabilityKind
	Partitions        []string
	UnicastLocators   locator.List
	MulticastLocators locator.List
	Disposed          bool
}

// Encode serializes e as an RTPS discovery-data parameter list.
func (e EndpointProxyData) Encode() []byte {
	var pl wire.ParameterList
	pl = append(pl, wire.Parameter{ID: wire.PIDEndpointGUID, Value: encodeGUID(e.GUID)})
	pl = append(pl, wire.Parameter{ID: wire.PIDTopicName, Value: []byte(e.TopicName)})
	pl = append(pl, wire.Parameter{ID: wire.PIDTypeName, Value: []byte(e.TypeName)})
	pl = append(pl, wire.Parameter{ID: wire.PIDReliability, Value: []byte{byte(e.Reliability)}})
	pl = append(pl, wire.Parameter{ID: wire.PIDDurability, Value: []byte{byte(e.Durability)}})
	for _, part := range e.Partitions {
		pl = append(pl, wire.Parameter{ID: wire.PIDPartition, Value: []byte(part)})
	}
	for _, l := range e.UnicastLocators {
		pl = append(pl, wire.Parameter{ID: wire.PIDUnicastLocator, Value: encodeLocator(l)})
	}
	for _, l := range e.MulticastLocators {
		pl = append(pl, wire.Parameter{ID: wire.PIDMulticastLocator, Value: encodeLocator(l)})
	}
	if e.Disposed {
		pl = append(pl, wire.Parameter{ID: wire.PIDStatusInfo, Value: []byte{0, 0, 0, 1}})
	}
	return pl.Encode(binary.BigEndian)
}

// DecodeEndpointProxyData parses the payload produced by Encode.
func DecodeEndpointProxyData(buf []byte) (EndpointProxyData, error) {
	pl, _, err := wire.DecodeParameterList(binary.BigEndian, buf)
	if err != nil {
		return EndpointProxyData{}, err
	}
	var e EndpointProxyData
	if v, ok := pl.Get(wire.PIDEndpointGUID); ok {
		e.GUID = decodeGUID(v)
	}
	// Parameter values come back padded to 4 bytes with zeros: strings
	// drop the trailing NULs, one-byte kinds read the first byte.
	if v, ok := pl.Get(wire.PIDTopicName); ok {
		e.TopicName = strings.TrimRight(string(v), "\x00")
	}
	if v, ok := pl.Get(wire.PIDTypeName); ok {
		e.TypeName = strings.TrimRight(string(v), "\x00")
	}
	if v, ok := pl.Get(wire.PIDReliability); ok && len(v) >= 1 {
		e.Reliability = qos.ReliabilityKind(v[0])
	}
	if v, ok := pl.Get(wire.PIDDurability); ok && len(v) >= 1 {
		e.Durability = qos.DurabilityKind(v[0])
	}
	for _, param := range pl {
		switch param.ID {
		case wire.PIDPartition:
			e.Partitions = append(e.Partitions, strings.TrimRight(string(param.Value), "\x00"))
		case wire.PIDUnicastLocator:
			e.UnicastLocators = append(e.UnicastLocators, decodeLocator(param.Value))
		case wire.PIDMulticastLocator:
			e.MulticastLocators = append(e.MulticastLocators, decodeLocator(param.Value))
		case wire.PIDStatusInfo:
			e.Disposed = len(param.Value) == 4 && param.Value[3]&0x01 != 0
		}
	}
	return e, nil
}

// Policies reconstructs the slice of QoS fields this package cares
// about for matching purposes (spec.md §4.7's compatibility table is
// narrower than the full qos.Policies struct).
func (e EndpointProxyData) Policies() qos.Policies {
	return qos.Policies{Reliability: e.Reliability, Durability: e.Durability, Partitions: e.Partitions}
}

func encodeGUID(g guid.GUID) []byte {
	buf := make([]byte, 16)
	copy(buf[:12], g.Prefix[:])
	copy(buf[12:], g.Entity[:])
	return buf
}

func decodeGUID(buf []byte) guid.GUID {
	var g guid.GUID
	if len(buf) < 16 {
		return g
	}
	copy(g.Prefix[:], buf[:12])
	copy(g.Entity[:], buf[12:16])
	return g
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func encodeDuration(d time.Duration) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(d))
	return buf
}

func decodeDuration(buf []byte) time.Duration {
	if len(buf) < 8 {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf))
}

// encodeLocator writes the RTPS Locator_t wire layout: kind (i32),
// port (u32), 16-byte address.
func encodeLocator(l locator.Locator) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], uint32(l.Kind))
	binary.BigEndian.PutUint32(buf[4:8], l.Port)
	copy(buf[8:24], l.Address[:])
	return buf
}

func decodeLocator(buf []byte) locator.Locator {
	var l locator.Locator
	if len(buf) < 24 {
		return l
	}
	l.Kind = locator.Kind(int32(binary.BigEndian.Uint32(buf[0:4])))
	l.Port = binary.BigEndian.Uint32(buf[4:8])
	copy(l.Address[:], buf[8:24])
	return l
}
