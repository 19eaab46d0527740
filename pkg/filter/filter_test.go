package filter

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		ExcludedCategory: "Doğtaş Home",
		Keywords:         []string{"Abajur", "Vazo", "Halı"},
		Duplication: config.DuplicationRule{
			Category:       "Yemek Odası",
			Keywords:       []string{"komodin", "ayna"},
			TargetCategory: "Yatak Odası",
		},
	}
}

func TestShouldExclude(t *testing.T) {
	f := New(testFilterConfig(), testLogger())

	tests := []struct {
		name string
		rec  models.ProductRecord
		want bool
	}{
		{
			"excluded category",
			models.ProductRecord{Category: "Doğtaş Home", FullName: "Lizbon Vazo"},
			true,
		},
		{
			"empty category with keyword in name",
			models.ProductRecord{Category: "", FullName: "Dekoratif Abajur"},
			true,
		},
		{
			"keyword match is case-insensitive",
			models.ProductRecord{Category: "", FullName: "dekoratif VAZO seti"},
			true,
		},
		{
			"keyword in short name",
			models.ProductRecord{Category: "", ShortName: "Halı 120x180", FullName: "Lizbon"},
			true,
		},
		{
			"keyword ignored when category present",
			models.ProductRecord{Category: "Aksesuar", FullName: "Dekoratif Abajur"},
			false,
		},
		{
			"ordinary record kept",
			models.ProductRecord{Category: "Yatak Odası", FullName: "Lizbon Yatak"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldExclude(&tt.rec))
		})
	}
}

func TestExpandDuplicates(t *testing.T) {
	f := New(testFilterConfig(), testLogger())

	t.Run("matching record duplicated into target category", func(t *testing.T) {
		records := []models.ProductRecord{
			{Category: "Yemek Odası", FullName: "Lizbon Konsol"},
			{Category: "Yemek Odası", FullName: "Lizbon Komodin"},
			{Category: "Salon", FullName: "Lizbon Koltuk"},
		}

		out := f.ExpandDuplicates(records)

		assert.Len(t, out, 4)
		// The copy follows its source immediately
		assert.Equal(t, "Lizbon Komodin", out[1].FullName)
		assert.Equal(t, "Yemek Odası", out[1].Category)
		assert.Equal(t, "Lizbon Komodin", out[2].FullName)
		assert.Equal(t, "Yatak Odası", out[2].Category)
		assert.Equal(t, "Salon", out[3].Category)
	})

	t.Run("keyword outside source category not duplicated", func(t *testing.T) {
		records := []models.ProductRecord{
			{Category: "Salon", FullName: "Lizbon Ayna"},
		}
		assert.Len(t, f.ExpandDuplicates(records), 1)
	})

	t.Run("no double duplication on repeat application", func(t *testing.T) {
		records := []models.ProductRecord{
			{Category: "Yemek Odası", FullName: "Lizbon Ayna"},
		}

		once := f.ExpandDuplicates(records)
		assert.Len(t, once, 2)

		// The copy already carries the target category, so it does not match
		// the rule again
		twice := f.ExpandDuplicates(once)
		assert.Len(t, twice, 3)
	})

	t.Run("incomplete rule is inert", func(t *testing.T) {
		f := New(config.FilterConfig{}, testLogger())
		records := []models.ProductRecord{
			{Category: "Yemek Odası", FullName: "Lizbon Komodin"},
		}
		assert.Equal(t, records, f.ExpandDuplicates(records))
	})
}
