package identity

import (
	"math/rand/v2"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var adjectives = []string{
	"amber", "brave", "calm", "clever", "cosmic", "curious", "daring", "eager",
	"gentle", "golden", "happy", "jolly", "keen", "lively", "lucky", "mellow",
	"nimble", "quiet", "rapid", "silent", "snowy", "sunny", "swift", "witty",
}

var animals = []string{
	"badger", "beaver", "falcon", "ferret", "fox", "gecko", "heron", "ibis",
	"koala", "lemur", "lynx", "marmot", "narwhal", "otter", "owl", "panda",
	"puffin", "quokka", "raven", "seal", "tapir", "walrus", "wombat", "yak",
}

// NameGenerator produces "Adjective Animal" display names. Collisions are
// possible and tolerated.
type NameGenerator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	title cases.Caser
}

// NewNameGenerator returns a generator drawing from rng, or from a randomly
// seeded source when rng is nil.
func NewNameGenerator(rng *rand.Rand) *NameGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &NameGenerator{rng: rng, title: cases.Title(language.English)}
}

func (g *NameGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	adjective := adjectives[g.rng.IntN(len(adjectives))]
	animal := animals[g.rng.IntN(len(animals))]
	return g.title.String(adjective + " " + animal)
}

var defaultNames = NewNameGenerator(nil)

// GenerateUniqueName returns a random display name.
func GenerateUniqueName() string {
	return defaultNames.Generate()
}
