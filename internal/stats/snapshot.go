package stats

// Well-known report headers.
const (
	HeaderAggregate = "pxname"
	HeaderMember    = "svname"
	HeaderTotal     = "stot"
)

// Well-known member names HAProxy uses for the aggregate rows of a proxy.
const (
	MemberFrontend = "FRONTEND"
	MemberBackend  = "BACKEND"
)

// Record is one report row keyed by header name. It is never mutated after
// Decode returns it.
type Record map[string]Scalar

// Get returns the field for header, or Empty when the header is absent.
func (r Record) Get(header string) Scalar {
	return r[header]
}

// Aggregate returns the row's aggregate (proxy) name.
func (r Record) Aggregate() string { return r[HeaderAggregate].String() }

// Member returns the row's member (server) name.
func (r Record) Member() string { return r[HeaderMember].String() }

// Snapshot is one decoded report, valid for a single cycle.
type Snapshot struct {
	Headers []string                     `json:"headers"`
	Records []Record                     `json:"records"`
	Index   map[string]map[string]Record `json:"-"`
}

// Lookup returns the record for an aggregate/member pair.
func (s *Snapshot) Lookup(aggregate, member string) (Record, bool) {
	if s == nil {
		return nil, false
	}
	members, ok := s.Index[aggregate]
	if !ok {
		return nil, false
	}
	rec, ok := members[member]
	return rec, ok
}

// Aggregates returns the number of distinct aggregates in the snapshot.
func (s *Snapshot) Aggregates() int {
	if s == nil {
		return 0
	}
	return len(s.Index)
}
