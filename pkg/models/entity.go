package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EntityKind tags an entity variant.
type EntityKind string

const (
	KindAccount          EntityKind = "account"
	KindHost             EntityKind = "host"
	KindIP               EntityKind = "ip"
	KindProcess          EntityKind = "process"
	KindFile             EntityKind = "file"
	KindFileHash         EntityKind = "filehash"
	KindURL              EntityKind = "url"
	KindDNS              EntityKind = "dns"
	KindMailbox          EntityKind = "mailbox"
	KindCloudApplication EntityKind = "cloud-application"
	KindRegistryKey      EntityKind = "registry-key"
)

// Identifier is one (field, value) pair that identifies an entity node.
type Identifier struct {
	Field string
	Value string
}

// Entity is a concrete indicator referenced by an alert.
type Entity interface {
	Kind() EntityKind
	// Identifiers returns the non-empty identifier pairs in a stable order.
	Identifiers() []Identifier
	Validate() error
}

// Account is a user or service principal.
type Account struct {
	Name      string `json:"Name,omitempty"`
	UPNSuffix string `json:"UPNSuffix,omitempty"`
	Sid       string `json:"Sid,omitempty"`
	AadUserID string `json:"AadUserId,omitempty"`
}

func (a Account) Kind() EntityKind { return KindAccount }

func (a Account) Identifiers() []Identifier {
	name := a.Name
	if name != "" && a.UPNSuffix != "" {
		name = name + "@" + a.UPNSuffix
	}
	return identifiers("Name", name, "Sid", a.Sid, "AadUserId", a.AadUserID)
}

func (a Account) Validate() error {
	return requireAny(KindAccount, a.Name, a.Sid, a.AadUserID)
}

// Host is a machine.
type Host struct {
	HostName    string `json:"HostName,omitempty"`
	NetBiosName string `json:"NetBiosName,omitempty"`
	DNSDomain   string `json:"DnsDomain,omitempty"`
	OSFamily    string `json:"OSFamily,omitempty"`
}

func (h Host) Kind() EntityKind { return KindHost }

func (h Host) Identifiers() []Identifier {
	return identifiers("HostName", h.HostName, "NetBiosName", h.NetBiosName)
}

func (h Host) Validate() error { return requireAny(KindHost, h.HostName) }

// IP is a network address.
type IP struct {
	Address string `json:"Address,omitempty"`
}

func (i IP) Kind() EntityKind            { return KindIP }
func (i IP) Identifiers() []Identifier { return identifiers("Address", i.Address) }
func (i IP) Validate() error           { return requireAny(KindIP, i.Address) }

// Process is a running program instance.
type Process struct {
	ProcessID   string `json:"ProcessId,omitempty"`
	CommandLine string `json:"CommandLine,omitempty"`
	ImageFile   string `json:"ImageFile,omitempty"`
}

func (p Process) Kind() EntityKind { return KindProcess }

func (p Process) Identifiers() []Identifier {
	return identifiers("CommandLine", p.CommandLine, "ProcessId", p.ProcessID)
}

func (p Process) Validate() error { return requireAny(KindProcess, p.ProcessID, p.CommandLine) }

// File is a file on disk.
type File struct {
	Name      string `json:"Name,omitempty"`
	Directory string `json:"Directory,omitempty"`
}

func (f File) Kind() EntityKind { return KindFile }

func (f File) Identifiers() []Identifier {
	return identifiers("Name", f.Name, "Directory", f.Directory)
}

func (f File) Validate() error { return requireAny(KindFile, f.Name) }

// FileHash is a content digest.
type FileHash struct {
	Algorithm string `json:"Algorithm,omitempty"`
	Value     string `json:"Value,omitempty"`
}

func (f FileHash) Kind() EntityKind            { return KindFileHash }
func (f FileHash) Identifiers() []Identifier { return identifiers("Value", f.Value) }
func (f FileHash) Validate() error           { return requireAny(KindFileHash, f.Value) }

// URL is a web address.
type URL struct {
	URL string `json:"Url,omitempty"`
}

func (u URL) Kind() EntityKind            { return KindURL }
func (u URL) Identifiers() []Identifier { return identifiers("Url", u.URL) }
func (u URL) Validate() error           { return requireAny(KindURL, u.URL) }

// DNS is a resolved domain name.
type DNS struct {
	DomainName string `json:"DomainName,omitempty"`
}

func (d DNS) Kind() EntityKind            { return KindDNS }
func (d DNS) Identifiers() []Identifier { return identifiers("DomainName", d.DomainName) }
func (d DNS) Validate() error           { return requireAny(KindDNS, d.DomainName) }

// Mailbox is an email mailbox.
type Mailbox struct {
	MailboxPrimaryAddress string `json:"MailboxPrimaryAddress,omitempty"`
	DisplayName           string `json:"DisplayName,omitempty"`
}

func (m Mailbox) Kind() EntityKind { return KindMailbox }

func (m Mailbox) Identifiers() []Identifier {
	return identifiers("MailboxPrimaryAddress", m.MailboxPrimaryAddress)
}

func (m Mailbox) Validate() error { return requireAny(KindMailbox, m.MailboxPrimaryAddress) }

// CloudApplication is a SaaS application.
type CloudApplication struct {
	Name  string `json:"Name,omitempty"`
	AppID string `json:"AppId,omitempty"`
}

func (c CloudApplication) Kind() EntityKind { return KindCloudApplication }

func (c CloudApplication) Identifiers() []Identifier {
	return identifiers("Name", c.Name, "AppId", c.AppID)
}

func (c CloudApplication) Validate() error {
	return requireAny(KindCloudApplication, c.Name, c.AppID)
}

// RegistryKey is a Windows registry key.
type RegistryKey struct {
	Key  string `json:"Key,omitempty"`
	Hive string `json:"Hive,omitempty"`
}

func (r RegistryKey) Kind() EntityKind            { return KindRegistryKey }
func (r RegistryKey) Identifiers() []Identifier { return identifiers("Key", r.Key) }
func (r RegistryKey) Validate() error           { return requireAny(KindRegistryKey, r.Key) }

type entityDecoder func(raw []byte) (Entity, error)

func decodeAs[T Entity](raw []byte) (Entity, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var entityDecoders = map[EntityKind]entityDecoder{
	KindAccount:          decodeAs[Account],
	KindHost:             decodeAs[Host],
	KindIP:               decodeAs[IP],
	KindProcess:          decodeAs[Process],
	KindFile:             decodeAs[File],
	KindFileHash:         decodeAs[FileHash],
	KindURL:              decodeAs[URL],
	KindDNS:              decodeAs[DNS],
	KindMailbox:          decodeAs[Mailbox],
	KindCloudApplication: decodeAs[CloudApplication],
	KindRegistryKey:      decodeAs[RegistryKey],
}

// KnownKinds returns the registered entity kinds in sorted order.
func KnownKinds() []EntityKind {
	out := make([]EntityKind, 0, len(entityDecoders))
	for k := range entityDecoders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind normalizes a kind tag. Sentinel-style names like "ip" or "IP",
// "cloud_application" and "CloudApplication" are accepted.
func ParseKind(raw string) (EntityKind, bool) {
	n := strings.ToLower(strings.TrimSpace(raw))
	n = strings.ReplaceAll(n, "_", "-")
	switch n {
	case "cloudapplication":
		n = string(KindCloudApplication)
	case "registrykey":
		n = string(KindRegistryKey)
	case "user":
		n = string(KindAccount)
	}
	k := EntityKind(n)
	_, ok := entityDecoders[k]
	return k, ok
}

// DecodeEntity decodes a tagged entity object. The tag is read from "kind"
// and falls back to "Type".
func DecodeEntity(raw []byte) (Entity, error) {
	var tag struct {
		Kind string `json:"kind"`
		Type string `json:"Type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("decode entity tag: %w", err)
	}
	name := tag.Kind
	if name == "" {
		name = tag.Type
	}
	kind, ok := ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", name)
	}
	ent, err := entityDecoders[kind](raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s entity: %w", kind, err)
	}
	if err := ent.Validate(); err != nil {
		return nil, err
	}
	return ent, nil
}

// MarshalEntity encodes an entity with its kind tag.
func MarshalEntity(e Entity) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["kind"] = string(e.Kind())
	return json.Marshal(fields)
}

func identifiers(pairs ...string) []Identifier {
	out := make([]Identifier, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		v := strings.TrimSpace(pairs[i+1])
		if v == "" {
			continue
		}
		out = append(out, Identifier{Field: pairs[i], Value: v})
	}
	return out
}

func requireAny(kind EntityKind, values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return nil
		}
	}
	return fmt.Errorf("%s entity has no identifying field", kind)
}
