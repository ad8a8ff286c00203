package ecs

// Tier distinguishes individually tracked (Semantic) entities from
// type-aggregated (Pooled) ones (§3). The spawn API makes the choice
// mandatory — there is no tier-less spawn.
type Tier int

const (
	TierSemantic Tier = iota
	TierPooled
)

func (t Tier) String() string {
	if t == TierPooled {
		return "pooled"
	}
	return "semantic"
}

// Identity carries the per-entity metadata the manifest's entity index
// (Layer 1) mirrors. For Semantic entities every field below is
// meaningful; for Pooled entities only Tier and PoolType are — pooled
// entities aggregate into the manifest at the type level, never per
// instance.
type Identity struct {
	Tier            Tier
	EntityType      string // semantic tier
	Role            string // semantic tier
	SpawnedBySystem int    // semantic tier
	RequirementID   string // semantic tier, optional
	PoolType        string // pooled tier
}

// SemanticIdentity is the argument shape for World.SpawnSemantic.
type SemanticIdentity struct {
	EntityType      string
	Role            string
	SpawnedBySystem int
	RequirementID   string
}

func (s SemanticIdentity) toIdentity() Identity {
	return Identity{
		Tier:            TierSemantic,
		EntityType:      s.EntityType,
		Role:            s.Role,
		SpawnedBySystem: s.SpawnedBySystem,
		RequirementID:   s.RequirementID,
	}
}

// PoolIdentity is the argument shape for World.SpawnPooled.
type PoolIdentity struct {
	PoolType string
}

func (p PoolIdentity) toIdentity() Identity {
	return Identity{Tier: TierPooled, PoolType: p.PoolType}
}
