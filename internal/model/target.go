// internal/model/target.go
package model

type Provider string

const (
	ProviderOfficial Provider = "official"
	ProviderDirect   Provider = "direct"
)

type TargetKind string

const (
	TargetIndividual TargetKind = "individual"
	TargetGroup      TargetKind = "group"
)

// ResolvedTarget is one concrete destination. Address is the normalized phone
// number for individuals and the opaque remote group id for groups.
type ResolvedTarget struct {
	Kind     TargetKind `json:"kind"`
	Address  string     `json:"address"`
	Provider Provider   `json:"provider"`
}

// Key identifies the target within a job.
func (t ResolvedTarget) Key() string {
	return string(t.Kind) + ":" + t.Address
}
