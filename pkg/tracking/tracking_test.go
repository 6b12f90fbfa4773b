package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionQueryFingerprint(t *testing.T) {
	tests := []struct {
		name  string
		query VersionQuery
		want  string
	}{
		{
			name:  "project only",
			query: VersionQuery{Project: "wilderun"},
			want:  "versions|project=wilderun",
		},
		{
			name:  "full query",
			query: VersionQuery{Project: "wilderun", Episode: "ep01", Shot: "sc010", Status: "approved", Limit: 5},
			want:  "versions|project=wilderun|episode=ep01|shot=sc010|status=approved|limit=5",
		},
		{
			name:  "zero limit omitted",
			query: VersionQuery{Project: "wilderun", Episode: "ep01"},
			want:  "versions|project=wilderun|episode=ep01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Fingerprint())
		})
	}
}

func TestVersionQueryFingerprintDistinguishesQueries(t *testing.T) {
	a := VersionQuery{Project: "wilderun", Episode: "ep01"}
	b := VersionQuery{Project: "wilderun", Episode: "ep02"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestProjectCloneIsDeep(t *testing.T) {
	p := Project{Name: "wilderun", Episodes: []string{"ep01", "ep02"}}
	c := p.Clone()
	c.Episodes[0] = "mutated"

	assert.Equal(t, "ep01", p.Episodes[0])
}

func TestCloneVersionsCopies(t *testing.T) {
	in := []Version{{ID: "v1"}, {ID: "v2"}}
	out := CloneVersions(in)
	out[0].ID = "mutated"

	assert.Equal(t, "v1", in[0].ID)
	assert.Nil(t, CloneVersions(nil))
}
