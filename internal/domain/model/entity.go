package model

// Entity is a tracked project. GitHub kinds read Repo ("owner/name"), downloads
// reads Package. Kinds lists what the scheduler collects for it.
type Entity struct {
	ID      string       `json:"id"`
	Repo    string       `json:"repo,omitempty"`
	Package string       `json:"package,omitempty"`
	Kinds   []MetricKind `json:"kinds"`
}

// Tracks reports whether kind is collected for the entity. An empty kind list
// means every kind the entity has a source for.
func (e Entity) Tracks(kind MetricKind) bool {
	if len(e.Kinds) == 0 {
		if kind == KindDownloads {
			return e.Package != ""
		}
		return e.Repo != ""
	}
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// TrackedKinds returns the kinds the scheduler should enqueue for the entity.
func (e Entity) TrackedKinds() []MetricKind {
	var out []MetricKind
	for _, k := range AllKinds() {
		if e.Tracks(k) {
			out = append(out, k)
		}
	}
	return out
}

// AdHocEntity describes an entity that is not in the registry: the id doubles as the
// repository for GitHub kinds and as the package name for downloads.
func AdHocEntity(id string) Entity {
	return Entity{ID: id, Repo: id, Package: id}
}
