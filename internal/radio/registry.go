package radio

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Property is the capability bitmask of a characteristic.
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Capability names as they appear on the wire.
const (
	CapRead                 = "read"
	CapWrite                = "write"
	CapNotify               = "notify"
	CapWriteWithoutResponse = "write-without-response"
	CapIndicate             = "indicate"
)

// Names expands the bitmask to its wire-format capability list.
func (p Property) Names() []string {
	names := make([]string, 0, 5)
	if p&PropRead != 0 {
		names = append(names, CapRead)
	}
	if p&PropWrite != 0 {
		names = append(names, CapWrite)
	}
	if p&PropNotify != 0 {
		names = append(names, CapNotify)
	}
	if p&PropWriteWithoutResponse != 0 {
		names = append(names, CapWriteWithoutResponse)
	}
	if p&PropIndicate != 0 {
		names = append(names, CapIndicate)
	}
	return names
}

// CharacteristicInfo is the published description of one discovered
// characteristic.
type CharacteristicInfo struct {
	UUID       string   `json:"uuid"`
	Properties []string `json:"properties"`
}

// HasProperty reports whether the info advertises the named capability.
func (c CharacteristicInfo) HasProperty(name string) bool {
	for _, p := range c.Properties {
		if p == name {
			return true
		}
	}
	return false
}

type registryEntry struct {
	uuid   string
	props  Property
	remote RemoteCharacteristic
}

// Registry maps normalized characteristic UUIDs to their capability set and
// the opaque handle into the live connection. It exists only while a
// connection is open and is rebuilt on every connect. Discovery order is
// preserved so the connected event lists characteristics the way the
// peripheral reported them.
type Registry struct {
	chars *orderedmap.OrderedMap[string, *registryEntry]
}

func NewRegistry() *Registry {
	return &Registry{chars: orderedmap.New[string, *registryEntry]()}
}

func (r *Registry) add(uuid string, props Property, remote RemoteCharacteristic) {
	r.chars.Set(uuid, &registryEntry{uuid: uuid, props: props, remote: remote})
}

func (r *Registry) lookup(uuid string) (*registryEntry, bool) {
	return r.chars.Get(NormalizeUUID(uuid))
}

func (r *Registry) each(fn func(*registryEntry)) {
	for pair := r.chars.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Value)
	}
}

// Infos returns the published view of the registry in discovery order.
func (r *Registry) Infos() []CharacteristicInfo {
	infos := make([]CharacteristicInfo, 0, r.chars.Len())
	r.each(func(e *registryEntry) {
		infos = append(infos, CharacteristicInfo{UUID: e.uuid, Properties: e.props.Names()})
	})
	return infos
}

func (r *Registry) Len() int {
	return r.chars.Len()
}
