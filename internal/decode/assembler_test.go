package decode_test

import (
	"testing"

	"github.com/couchcryptid/obs-decoder-service/internal/decode"
	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	depthRule = &rules.Rule{Kind: rules.KindCoordinate, Name: "Depth", SubrecordType: "PROFILE"}
	tempRule  = &rules.Rule{Kind: rules.KindVariable, Name: "Temperature", SubrecordType: "PROFILE"}
	bandRule  = &rules.Rule{Kind: rules.KindCoordinate, Name: "CentralFrequency", SubrecordType: "SPEC_WAVE"}
	latRule   = &rules.Rule{Kind: rules.KindCoordinate, Name: "Latitude"}
)

func TestAssembler_RootWritesToRecord(t *testing.T) {
	a := decode.NewAssembler(nil)
	a.Reset(map[string]domain.Value{"GTSHeader": domain.Text("X")})

	a.AddCoordinate(latRule, domain.Assignment{Name: "Latitude", Value: domain.Number(45)})
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(5)})
	a.SetMetadata("Station", domain.Text("7KET"))

	rec := a.Finish()
	assert.Equal(t, domain.Text("7KET"), rec.Metadata["Station"], "root metadata stays on the record")
	assert.Equal(t, domain.Text("X"), rec.Metadata["GTSHeader"])
	assert.Len(t, rec.Coordinates, 1)
	require.Len(t, rec.Subrecords, 1)
	assert.Nil(t, rec.Subrecords[0].Metadata)
}

func TestAssembler_PendingMovesToFirstSubrecord(t *testing.T) {
	a := decode.NewAssembler(nil)
	a.Reset(nil)

	a.Enter(306004)
	assert.Nil(t, a.Active())
	a.SetMetadata("Instrument", domain.Number(52))
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(5)})
	a.AddCoordinate(bandRule, domain.Assignment{Name: "CentralFrequency", Value: domain.Number(0.1)})
	a.Leave()

	rec := a.Finish()
	require.Len(t, rec.Subrecords, 2)
	assert.Equal(t, map[string]domain.Value{"Instrument": domain.Number(52)}, rec.Subrecords[0].Metadata)
	assert.Nil(t, rec.Subrecords[1].Metadata)
	assert.NotContains(t, rec.Metadata, "Instrument")
}

func TestAssembler_OneOpenInstancePerTypePerGroup(t *testing.T) {
	a := decode.NewAssembler(nil)
	a.Reset(nil)

	a.Enter(306004)
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(5)})
	a.AddCoordinate(bandRule, domain.Assignment{Name: "CentralFrequency", Value: domain.Number(0.1)})
	a.AddVariable(tempRule, domain.Assignment{Name: "Temperature", Value: domain.Number(10)})
	a.Leave()

	rec := a.Finish()
	profiles := rec.SubrecordsOfType("PROFILE")
	require.Len(t, profiles, 1)
	assert.Len(t, profiles[0].Variables, 1, "switching type and back reuses the open instance")
}

func TestAssembler_OnCloseOrderAndRemoveMetadata(t *testing.T) {
	var closed []string
	a := decode.NewAssembler(func(s *domain.Subrecord) { closed = append(closed, s.Type) })
	a.Reset(nil)

	a.SetMetadata("Precision", domain.Number(0.1))
	a.Enter(306004)
	a.SetMetadata("Precision", domain.Number(0.2))
	a.RemoveMetadata([]string{"Precision"})
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(5)})
	a.AddCoordinate(bandRule, domain.Assignment{Name: "CentralFrequency", Value: domain.Number(0.1)})
	a.Leave()
	assert.Equal(t, []string{"PROFILE", "SPEC_WAVE"}, closed)

	a.RemoveMetadata([]string{"Precision"})
	rec := a.Finish()
	assert.NotContains(t, rec.Metadata, "Precision")
	assert.Nil(t, rec.Subrecords[0].Metadata)
}

func TestAssembler_SnapshotIsIndependent(t *testing.T) {
	a := decode.NewAssembler(nil)
	a.Reset(nil)
	a.Enter(306004)
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(5)})

	snap := a.Snapshot()
	a.AddCoordinate(depthRule, domain.Assignment{Name: "Depth", Value: domain.Number(10)})

	assert.Len(t, snap.Subrecords[0].Coordinates, 1)
	assert.Len(t, a.Snapshot().Subrecords[0].Coordinates, 2)
}
