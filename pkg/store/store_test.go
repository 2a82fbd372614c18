package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

const generation = "Net_Gen_By_Fuel_MWh"

func sampleTable() *table.Table {
	t := table.New([]time.Time{
		time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	_ = t.Set("coal", []float64{1.5, 2})
	_ = t.Set("emissions_intensity", []float64{0.25, math.NaN()})
	return t
}

type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func (s *StoreContractSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreContractSuite) TestBlobRoundTrip() {
	key := Raw("AL", generation, "coal")
	_, err := s.store.GetBlob(s.ctx, key)
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.store.PutBlob(s.ctx, key, []byte(`{"series":[]}`)))
	data, err := s.store.GetBlob(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(`{"series":[]}`, string(data))

	s.Require().NoError(s.store.PutBlob(s.ctx, key, []byte(`{}`)))
	data, err = s.store.GetBlob(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(`{}`, string(data))
}

func (s *StoreContractSuite) TestTableRoundTrip() {
	key := Combined("AL", generation)
	_, err := s.store.GetTable(s.ctx, key)
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.store.PutTable(s.ctx, key, sampleTable()))
	got, err := s.store.GetTable(s.ctx, key)
	s.Require().NoError(err)

	s.Equal(sampleTable().Dates, got.Dates)
	s.Equal([]string{"coal", "emissions_intensity"}, got.Names())
	ratio, _ := got.Column("emissions_intensity")
	s.Equal(0.25, ratio[0])
	s.True(math.IsNaN(ratio[1]))
}

func (s *StoreContractSuite) TestLabelledTable() {
	all, err := table.Concat([]table.Labelled{
		{Label: "AL", Table: sampleTable()},
		{Label: "AK", Table: sampleTable()},
	}, EntityLabel)
	s.Require().NoError(err)

	key := Key{Stage: StageAllIntensity}
	s.Require().NoError(s.store.PutTable(s.ctx, key, all))
	got, err := s.store.GetTable(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(EntityLabel, got.LabelName)
	s.Equal([]string{"AL", "AL", "AK", "AK"}, got.Labels)
}

func (s *StoreContractSuite) TestKeysAreDistinct() {
	s.Require().NoError(s.store.PutBlob(s.ctx, Raw("AL", generation, "coal"), []byte("a")))
	s.Require().NoError(s.store.PutBlob(s.ctx, Raw("AL", generation, "wind"), []byte("b")))
	s.Require().NoError(s.store.PutBlob(s.ctx, Raw("AK", generation, "coal"), []byte("c")))

	data, err := s.store.GetBlob(s.ctx, Raw("AL", generation, "wind"))
	s.Require().NoError(err)
	s.Equal("b", string(data))
}

func (s *StoreContractSuite) TestInvalidKey() {
	s.Error(s.store.PutBlob(s.ctx, Key{Stage: StageRaw, Entity: "AL"}, []byte("x")))
	s.Error(s.store.PutTable(s.ctx, Key{Stage: "bogus"}, sampleTable()))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		return NewMemoryStore()
	}})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"))
		require.NoError(t, err)
		return s
	}})
}

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	tests := []struct {
		key      Key
		expected string
	}{
		{Raw("AL", generation, "coal"), "01_raw/Net_Gen_By_Fuel_MWh/AL/Net_Gen_By_Fuel_MWh-coal.json"},
		{Cleaned("AL", generation, "coal"), "02_intermediate/Net_Gen_By_Fuel_MWh/AL/Net_Gen_By_Fuel_MWh-coal.csv"},
		{Forecast("AL", generation, "coal"), "06_reporting/Individual_Forecasts/Net_Gen_By_Fuel_MWh/AL/Net_Gen_By_Fuel_MWh-coal.csv"},
		{Combined("AL", generation), "06_reporting/Combined_Forecasts/AL/Net_Gen_By_Fuel_MWh-Combined.csv"},
		{Key{Stage: StageTotalEmissions, Entity: "AL"}, "06_reporting/Emission_Forecasts/Total_Emissions/AL-CO2e-Emissions.csv"},
		{Key{Stage: StageIntensity, Entity: "AL"}, "06_reporting/Emission_Forecasts/Emissions_Intensity/AL-CO2e-Emissions-Intensity.csv"},
		{Key{Stage: StageAllGeneration}, "06_reporting/Combined_Forecasts/Combined-Electricity-Generation-All-States.csv"},
		{Key{Stage: StageAllTotal}, "06_reporting/Emission_Forecasts/Combined-CO2e-Total-Emissions.csv"},
		{Key{Stage: StageAllIntensity}, "06_reporting/Emission_Forecasts/Combined-CO2e-Emissions-Intensity.csv"},
		{Key{Stage: StageWorkbook}, "06_reporting/Emission_Forecasts/Emissions.xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			path, err := s.Path(tt.key)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.expected)), path)
		})
	}

	require.NoError(t, s.PutTable(context.Background(), Combined("AL", generation), sampleTable()))
	data, err := os.ReadFile(filepath.Join(root, "06_reporting/Combined_Forecasts/AL/Net_Gen_By_Fuel_MWh-Combined.csv"))
	require.NoError(t, err)
	assert.Equal(t, "date,coal,emissions_intensity\n2020-03-31,1.5,0.25\n2020-06-30,2,\n", string(data))
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := Combined("AL", generation)

	tbl := sampleTable()
	require.NoError(t, s.PutTable(ctx, key, tbl))
	tbl.Columns[0].Values[0] = 99

	got, err := s.GetTable(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Columns[0].Values[0])
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("s3", "", "")
	assert.Error(t, err)
}
