package resource

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donationcore/internal/blob"
	"donationcore/internal/logging"
	"donationcore/internal/infra/persistence/memory"
	"donationcore/pkg/domain"
)

type faultyRows struct {
	*memory.Store
	insertErr error
}

func (f *faultyRows) InsertResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	if f.insertErr != nil {
		return domain.Resource{}, f.insertErr
	}
	return f.Store.InsertResource(ctx, r)
}

type faultyBlobs struct {
	blob.Store
	deleteErr error
}

func (f *faultyBlobs) Delete(ctx context.Context, key string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return f.Store.Delete(ctx, key)
}

func newFixture() (*faultyRows, *faultyBlobs, *Service) {
	rows := &faultyRows{Store: memory.NewStore()}
	blobs := &faultyBlobs{Store: blob.NewMemory()}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return rows, blobs, NewService(rows, blobs, WithClock(func() time.Time { return fixed }))
}

func pdf(name string) *FileInput {
	return &FileInput{Name: name, Reader: strings.NewReader("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")}
}

func TestCreateUploadsFileAndStoresRow(t *testing.T) {
	_, blobs, svc := newFixture()
	ctx := context.Background()

	r, err := svc.Create(ctx, "inst-1", domain.KindContract, CreateInput{
		Title:      " Convênio municipal ",
		Attributes: map[string]string{"counterparty": "Prefeitura", "blank": " "},
		File:       pdf("../convênio 2024.pdf"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Convênio municipal", r.Title)
	assert.Equal(t, map[string]string{"counterparty": "Prefeitura"}, r.Attributes)
	assert.True(t, strings.HasPrefix(r.FilePath, "inst-1/"))
	assert.True(t, strings.HasSuffix(r.FilePath, "-convênio_2024.pdf"))
	assert.Equal(t, "application/pdf", r.ContentType)
	assert.Positive(t, r.FileSize)

	objs, err := blobs.List(ctx, "inst-1/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, r.FilePath, objs[0].Key)

	got, err := svc.Get(ctx, "inst-1", domain.KindContract, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.FilePath, got.FilePath)
}

func TestCreateRemovesUploadWhenInsertFails(t *testing.T) {
	rows, blobs, svc := newFixture()
	rows.insertErr = errors.New("disk full")
	ctx := context.Background()

	_, err := svc.Create(ctx, "inst-1", domain.KindAudit, CreateInput{Title: "Auditoria 2023", File: pdf("audit.pdf")})
	require.ErrorIs(t, err, domain.ErrInternal)
	require.ErrorIs(t, err, rows.insertErr)

	objs, err := blobs.List(ctx, "inst-1/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCreateValidatesBeforeUpload(t *testing.T) {
	_, blobs, svc := newFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, "inst-1", domain.KindDocument, CreateInput{Title: "Estatuto"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "nenhum arquivo enviado")

	_, err = svc.Create(ctx, "inst-1", domain.KindReport, CreateInput{Title: "Relatório", File: pdf("r.pdf")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Create(ctx, "inst-1", domain.KindPartnership, CreateInput{
		Title: "Parceria", Attributes: map[string]string{"partner_name": "ONG"}, File: pdf("p.pdf"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	amount := decimal.RequireFromString("10.50")
	_, err = svc.Create(ctx, "inst-1", domain.KindFinancialEntry, CreateInput{
		Title: "Doação", Amount: &amount, Attributes: map[string]string{"entry_type": "gift"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	objs, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCreateRejectsOversizedFile(t *testing.T) {
	rows := memory.NewStore()
	svc := NewService(rows, blob.NewMemory(), WithMaxFileSize(8))
	_, err := svc.Create(context.Background(), "inst-1", domain.KindDocument, CreateInput{
		Title: "Grande", File: &FileInput{Name: "big.txt", Reader: strings.NewReader("0123456789")},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateRequiresOwnerAndKnownKind(t *testing.T) {
	_, _, svc := newFixture()
	_, err := svc.Create(context.Background(), "", domain.KindAudit, CreateInput{Title: "x"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Create(context.Background(), "inst-1", domain.ResourceKind("ghost"), CreateInput{Title: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteTwiceReturnsNotFound(t *testing.T) {
	_, blobs, svc := newFixture()
	ctx := context.Background()
	r, err := svc.Create(ctx, "inst-1", domain.KindDocument, CreateInput{Title: "Ata", File: pdf("ata.pdf")})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "inst-1", domain.KindDocument, r.ID))
	err = svc.Delete(ctx, "inst-1", domain.KindDocument, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = blobs.Head(ctx, r.FilePath)
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDeleteSucceedsWhenFileRemovalFails(t *testing.T) {
	_, blobs, svc := newFixture()
	r, err := svc.Create(context.Background(), "inst-1", domain.KindDocument, CreateInput{Title: "Ata", File: pdf("ata.pdf")})
	require.NoError(t, err)
	blobs.deleteErr = errors.New("bucket offline")

	logger, hook := logtest.NewNullLogger()
	ctx := logging.WithLogger(context.Background(), logrus.NewEntry(logger))
	require.NoError(t, svc.Delete(ctx, "inst-1", domain.KindDocument, r.ID))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["step"] == "file" {
			warned = true
		}
	}
	assert.True(t, warned)
	_, err = svc.Get(ctx, "inst-1", domain.KindDocument, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOwnerIsolation(t *testing.T) {
	_, _, svc := newFixture()
	ctx := context.Background()
	r, err := svc.Create(ctx, "inst-1", domain.KindPartnership, CreateInput{
		Title: "Parceria", Attributes: map[string]string{"partner_name": "Banco de Alimentos"},
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "inst-2", domain.KindPartnership, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(ctx, "inst-1", domain.KindContract, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "inst-2", domain.KindPartnership, r.ID), domain.ErrNotFound)

	title := "Outra"
	_, err = svc.Update(ctx, "inst-2", domain.KindPartnership, r.ID, domain.ResourcePatch{Title: &title})
	require.ErrorIs(t, err, domain.ErrNotFound)

	list, err := svc.List(ctx, "inst-2", domain.KindPartnership)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = svc.List(ctx, "inst-1", domain.KindPartnership)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateRevalidates(t *testing.T) {
	_, _, svc := newFixture()
	ctx := context.Background()
	amount := decimal.RequireFromString("250.00")
	r, err := svc.Create(ctx, "inst-1", domain.KindFinancialEntry, CreateInput{
		Title: "Doação", Amount: &amount, Attributes: map[string]string{"entry_type": "income"},
	})
	require.NoError(t, err)

	blank := "  "
	_, err = svc.Update(ctx, "inst-1", domain.KindFinancialEntry, r.ID, domain.ResourcePatch{Title: &blank})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	newAmount := decimal.RequireFromString("260.10")
	updated, err := svc.Update(ctx, "inst-1", domain.KindFinancialEntry, r.ID, domain.ResourcePatch{
		Amount:     &newAmount,
		Attributes: map[string]string{"entry_type": "expense"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Amount)
	assert.True(t, newAmount.Equal(*updated.Amount))
	assert.Equal(t, "expense", updated.Attributes["entry_type"])
	assert.Equal(t, "Doação", updated.Title)
}

func TestFileURLFallsBackToStreaming(t *testing.T) {
	_, _, svc := newFixture()
	ctx := context.Background()
	r, err := svc.Create(ctx, "inst-1", domain.KindDocument, CreateInput{Title: "Ata", File: pdf("ata.pdf")})
	require.NoError(t, err)

	_, err = svc.FileURL(ctx, "inst-1", domain.KindDocument, r.ID)
	require.ErrorIs(t, err, blob.ErrUnsupported)

	got, rc, err := svc.OpenFile(ctx, "inst-1", domain.KindDocument, r.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
	assert.Equal(t, r.ID, got.ID)

	_, _, err = svc.OpenFile(ctx, "inst-2", domain.KindDocument, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"relatório final.pdf": "relatório_final.pdf",
		"../../etc/passwd":    "passwd",
		`C:\docs\ata.pdf`:     "ata.pdf",
		"...":                 "file",
		"":                    "file",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
	assert.Equal(t, "inst-1/tok-a_b.txt", ObjectKey("inst-1", "tok", "a b.txt"))
}
