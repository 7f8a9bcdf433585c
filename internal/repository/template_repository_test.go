package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickTemplate(t *testing.T) {
	hvac := &StepTemplate{ID: "t1", AssetCategory: "hvac", Priority: 1}
	elevators := &StepTemplate{ID: "t2", AssetCategory: "elevators", Priority: 2}
	catchAll := &StepTemplate{ID: "t3", AssetCategory: "", Priority: 9}
	templates := []*StepTemplate{hvac, elevators, catchAll}

	tests := []struct {
		name     string
		category string
		want     *StepTemplate
	}{
		{"exact category", "hvac", hvac},
		{"other category", "elevators", elevators},
		{"unknown falls through to catch-all", "plumbing", catchAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickTemplate(templates, tt.category))
		})
	}

	t.Run("no match without catch-all", func(t *testing.T) {
		assert.Nil(t, pickTemplate([]*StepTemplate{hvac}, "plumbing"))
	})

	t.Run("priority order wins over catch-all", func(t *testing.T) {
		// List is already priority-ordered; the first match is taken
		// even when a catch-all exists later.
		got := pickTemplate([]*StepTemplate{catchAll, hvac}, "hvac")
		assert.Equal(t, catchAll, got)
	})
}
