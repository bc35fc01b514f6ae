// File: internal/identity/generator.go
package identity

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// Name pools for generated identities. Deliberately small; realistic-looking
// data is all the signup forms require.
var (
	firstNames = []string{
		"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
		"Linda", "David", "Elizabeth", "William", "Barbara", "Richard",
		"Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Daniel", "Karen",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
		"Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
	}
	emailDomains = []string{
		"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
		"protonmail.com", "icloud.com",
	}
	passwordSymbols = "!@#$%&*"
)

// Generator is the default ProfileGenerator implementation. It produces
// plausible credentials for signup forms; anything more sophisticated is an
// external collaborator's job.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator. A non-zero seed makes output reproducible
// for tests.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces one fake identity.
func (g *Generator) Generate() schemas.Credentials {
	first := firstNames[g.rng.Intn(len(firstNames))]
	last := lastNames[g.rng.Intn(len(lastNames))]

	return schemas.Credentials{
		FirstName: first,
		LastName:  last,
		Email:     g.email(first, last),
		Password:  g.password(),
		BirthDate: g.birthDate(),
	}
}

// email builds name-based addresses with a numeric suffix to dodge collisions.
func (g *Generator) email(first, last string) string {
	domain := emailDomains[g.rng.Intn(len(emailDomains))]
	return fmt.Sprintf("%s.%s%d@%s",
		strings.ToLower(first), strings.ToLower(last), 100+g.rng.Intn(9900), domain)
}

// password produces a 14-character mixed-class password.
func (g *Generator) password() string {
	const lower = "abcdefghijkmnpqrstuvwxyz"
	const upper = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	const digits = "23456789"

	var b strings.Builder
	pick := func(set string, n int) {
		for i := 0; i < n; i++ {
			b.WriteByte(set[g.rng.Intn(len(set))])
		}
	}
	pick(upper, 2)
	pick(lower, 7)
	pick(digits, 3)
	pick(passwordSymbols, 2)
	return b.String()
}

// birthDate yields an adult age between 21 and 45 years.
func (g *Generator) birthDate() time.Time {
	years := 21 + g.rng.Intn(25)
	days := g.rng.Intn(365)
	return time.Now().AddDate(-years, 0, -days)
}
