package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/almseed/internal/parse"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

const (
	caseTracker  = 40
	stepsFieldID = 1000001
	actionColID  = 1000002
	resultColID  = 1000003
)

func newTestCaseFake() *fakeTracker {
	f := newFakeTracker()
	f.addTracker(caseTracker, "Test Cases", "Testcase")
	f.fields[caseTracker] = []tracker.FieldRef{{ID: 3, Name: "Summary"}, {ID: stepsFieldID, Name: TestStepsField}}
	f.fieldDefs[stepsFieldID] = tracker.TableField{
		FieldInfo: tracker.FieldInfo{ID: stepsFieldID, Name: TestStepsField, Type: tracker.KindTableField},
		Columns: []tracker.FieldInfo{
			{ID: actionColID, Name: ActionColumn},
			{ID: resultColID, Name: ExpectedResultColumn},
			{ID: 1000004, Name: "Critical"},
		},
	}
	return f
}

const threeSteps = `
- action: Power on the drone
  expected_result: LEDs turn green
- action: Arm the motors
  expected_result: Motors spin at idle
- action: Land
  expected_result: Motors stop
`

func stepRows(t *testing.T, it *tracker.Item) [][]tracker.FieldValue {
	t.Helper()
	v, ok := it.FieldValue(stepsFieldID)
	require.True(t, ok, "test steps field present")
	table, ok := v.(tracker.TableFieldValue)
	require.True(t, ok, "test steps field is a table, got %T", v)
	return table.Rows
}

func TestTestStepGenerator_AddsTable(t *testing.T) {
	f := newTestCaseFake()
	f.addItem(caseTracker, 1, "Verify takeoff")
	synth := replyWith(threeSteps)
	deps, _ := testDeps(t, f, synth)

	res, err := (&TestStepGenerator{Deps: deps, TrackerID: caseTracker, ItemIDs: []int{1}, Product: "Drone"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Updated)

	require.Len(t, synth.requests, 1)
	assert.Equal(t, synthesis.KindTestSteps, synth.requests[0].Kind)
	assert.Equal(t, "Verify takeoff", synth.requests[0].TestCaseName)

	rows := stepRows(t, f.updates[1])
	require.Len(t, rows, 2, "extra steps are dropped")
	assert.Equal(t, []tracker.FieldValue{
		tracker.NewWikiText(actionColID, "Power on the drone"),
		tracker.NewWikiText(resultColID, "LEDs turn green"),
	}, rows[0])
	assert.Equal(t, "Arm the motors", rows[1][0].(tracker.TextFieldValue).Value)
}

func TestTestStepGenerator_ReplacesExistingRows(t *testing.T) {
	f := newTestCaseFake()
	it := f.addItem(caseTracker, 1, "Verify takeoff")
	it.SetFieldValue(tracker.TableFieldValue{
		FieldMeta: tracker.FieldMeta{ID: stepsFieldID, Name: TestStepsField},
		Rows: [][]tracker.FieldValue{
			{tracker.NewWikiText(actionColID, "old 1"), tracker.NewWikiText(resultColID, "old 1")},
			{tracker.NewWikiText(actionColID, "old 2"), tracker.NewWikiText(resultColID, "old 2")},
			{tracker.NewWikiText(actionColID, "old 3"), tracker.NewWikiText(resultColID, "old 3")},
		},
	})
	deps, _ := testDeps(t, f, replyWith(threeSteps))

	_, err := (&TestStepGenerator{Deps: deps, TrackerID: caseTracker, ItemIDs: []int{1}}).Run(context.Background())
	require.NoError(t, err)

	updated := f.updates[1]
	rows := stepRows(t, updated)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotContains(t, row[0].(tracker.TextFieldValue).Value, "old")
	}
	n := 0
	for _, v := range updated.CustomFields {
		if v.FieldID() == stepsFieldID {
			n++
		}
	}
	assert.Equal(t, 1, n, "field replaced, not duplicated")
}

func TestTestStepGenerator_TooFewSteps(t *testing.T) {
	f := newTestCaseFake()
	f.addItem(caseTracker, 1, "Verify takeoff")
	deps, _ := testDeps(t, f, replyWith("- action: Only one\n  expected_result: Works\n"))

	res, err := (&TestStepGenerator{Deps: deps, TrackerID: caseTracker, ItemIDs: []int{1}}).Run(context.Background())
	var fe *parse.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, res.Failed)
	requireNoWrites(t, f)
}

func TestTestStepGenerator_MissingLayout(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeTracker)
	}{
		{"no field", func(f *fakeTracker) { f.fields[caseTracker] = nil }},
		{"not a table", func(f *fakeTracker) {
			f.fieldDefs[stepsFieldID] = tracker.OtherField{FieldInfo: tracker.FieldInfo{ID: stepsFieldID, Type: "TextField"}}
		}},
		{"no action column", func(f *fakeTracker) {
			tf := f.fieldDefs[stepsFieldID].(tracker.TableField)
			tf.Columns = tf.Columns[1:]
			f.fieldDefs[stepsFieldID] = tf
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestCaseFake()
			f.addItem(caseTracker, 1, "Verify takeoff")
			tt.setup(f)
			synth := replyWith(threeSteps)
			deps, _ := testDeps(t, f, synth)

			_, err := (&TestStepGenerator{Deps: deps, TrackerID: caseTracker, ItemIDs: []int{1}}).Run(context.Background())
			require.Error(t, err)
			assert.Empty(t, synth.requests)
			requireNoWrites(t, f)
		})
	}
}
