package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// runCLI executes the root command in-process against the in-memory store.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "BIGQUERY_PROJECT", "FINANCE_INGEST_CONFIG", "FINANCE_INGEST_OWNER", "NOTION_TOKEN", "GCS_BUCKET"} {
		t.Setenv(key, "")
	}

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchedule_Text(t *testing.T) {
	out, err := runCLI(t, "schedule", "--principal", "12000", "--rate", "12", "--months", "12", "--start", "2024-01-15")
	require.NoError(t, err)

	assert.Contains(t, out, "PAYMENT")
	assert.Contains(t, out, "1066.19")
	assert.Contains(t, out, "2024-02-15", "first installment falls a month after start")
}

func TestSchedule_JSON(t *testing.T) {
	out, err := runCLI(t, "--json", "schedule", "--principal", "12000", "--rate", "12", "--months", "12", "--start", "2024-01-15")
	require.NoError(t, err)

	var rows []domain.AmortizationRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 12)
	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, "120.00", rows[0].Interest.StringFixed(2))
	assert.True(t, rows[11].Balance.IsZero())
}

func TestSchedule_Invalid(t *testing.T) {
	_, err := runCLI(t, "schedule", "--principal", "abc", "--months", "12")
	assert.ErrorContains(t, err, "--principal must be a number")

	_, err = runCLI(t, "schedule", "--principal", "1000", "--months", "0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = runCLI(t, "schedule", "--principal", "1000")
	assert.ErrorContains(t, err, `"months" not set`)
}

func TestPendingList_RequiresOwner(t *testing.T) {
	_, err := runCLI(t, "pending", "list")
	assert.ErrorContains(t, err, "--owner")
}

func TestPendingList_Empty(t *testing.T) {
	out, err := runCLI(t, "--owner", "u1", "pending", "list", "--kind", "ticket")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to review.\n", out)
}

func TestPendingList_UnknownKind(t *testing.T) {
	_, err := runCLI(t, "--owner", "u1", "pending", "list", "--kind", "receipt")
	assert.ErrorContains(t, err, `unknown kind "receipt"`)
}

func TestPendingApprove_NotFound(t *testing.T) {
	_, err := runCLI(t, "--owner", "u1", "pending", "approve", "missing", "--account", "BBVA")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDebtsCreate(t *testing.T) {
	out, err := runCLI(t, "--owner", "u1", "--json", "debts", "create",
		"--name", "Auto", "--principal", "12000", "--rate", "12", "--term", "12", "--start", "2024-01-15")
	require.NoError(t, err)

	var res struct {
		Debt     domain.Debt              `json:"debt"`
		Schedule []domain.AmortizationRow `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Auto", res.Debt.Name)
	assert.Equal(t, "u1", res.Debt.OwnerID)
	assert.Len(t, res.Schedule, 12)
	assert.Equal(t, res.Debt.ID, res.Schedule[0].DebtID)
}

func TestNotionSync_NeedsConfig(t *testing.T) {
	_, err := runCLI(t, "--owner", "u1", "notion", "sync", "--from", "2024-06-01", "--to", "2024-06-30")
	assert.ErrorContains(t, err, "NOTION_TOKEN")

	_, err = runCLI(t, "--owner", "u1", "notion", "sync", "--from", "2024-06-30", "--to", "2024-06-01")
	assert.ErrorContains(t, err, "--to is before --from")
}

func TestUpload_NeedsBucket(t *testing.T) {
	_, err := runCLI(t, "upload", "--kind", "ticket", "receipt.jpg")
	assert.ErrorContains(t, err, "storage.bucket")

	_, err = runCLI(t, "upload", "--kind", "receipt", "receipt.jpg")
	assert.ErrorContains(t, err, "unknown kind")
}

func TestIngest_ValidatesBeforeConnecting(t *testing.T) {
	_, err := runCLI(t, "--owner", "u1", "ingest", "receipts")
	assert.ErrorContains(t, err, "unknown kind")

	_, err = runCLI(t, "ingest", "ticket")
	assert.ErrorContains(t, err, "--owner")
}
