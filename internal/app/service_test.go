/**
 * @description
 * Unit tests for LinkService lifecycle operations (get, set-primary, repair,
 * processor tokens), backed by in-memory stubs of the repositories and
 * external clients. The stubs embed the store interfaces so only the methods
 * a test path touches need implementations.
 */
package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/bank-link-service/internal/domain"
	"github.com/transfa/bank-link-service/internal/store"
	"github.com/transfa/bank-link-service/pkg/stripeclient"
)

type userRepoStub struct {
	store.UserRepository

	user *domain.User

	setCustomerCalled bool
	setCustomerID     string
	setCustomerErr    error
}

func (s *userRepoStub) GetOrCreateByClerkID(ctx context.Context, clerkUserID string, email *string) (*domain.User, error) {
	if s.user == nil {
		s.user = &domain.User{ID: uuid.New(), ClerkUserID: clerkUserID, Email: email}
	}
	return s.user, nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, domain.ErrNotFound
	}
	return s.user, nil
}

func (s *userRepoStub) SetStripeCustomerID(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	s.setCustomerCalled = true
	s.setCustomerID = stripeCustomerID
	return s.setCustomerErr
}

type connRepoStub struct {
	store.ConnectionRepository

	conns []domain.Connection

	upserted         *domain.Connection
	applied          []domain.Transition
	appliedConnIDs   []uuid.UUID
	applyErr         error
	findByItemErr    error
}

// UpsertByItemID mirrors the ON CONFLICT (plaid_item_id) semantics: relinking
// the same item updates the existing row in place and revives it.
func (s *connRepoStub) UpsertByItemID(ctx context.Context, conn *domain.Connection) (*domain.Connection, error) {
	for i := range s.conns {
		if s.conns[i].PlaidItemID == conn.PlaidItemID {
			s.conns[i].EncryptedAccessToken = conn.EncryptedAccessToken
			s.conns[i].InstitutionID = conn.InstitutionID
			s.conns[i].InstitutionName = conn.InstitutionName
			s.conns[i].Status = domain.ConnectionActive
			s.conns[i].LastError = nil
			out := s.conns[i]
			s.upserted = &out
			return &out, nil
		}
	}
	out := *conn
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	out.Status = domain.ConnectionActive
	s.upserted = &out
	s.conns = append(s.conns, out)
	return &out, nil
}

func (s *connRepoStub) FindByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error) {
	if s.findByItemErr != nil {
		return nil, s.findByItemErr
	}
	for i := range s.conns {
		if s.conns[i].PlaidItemID == plaidItemID {
			return &s.conns[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *connRepoStub) FindByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	for i := range s.conns {
		if s.conns[i].ID == id {
			return &s.conns[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *connRepoStub) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Connection, error) {
	var out []domain.Connection
	for _, c := range s.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *connRepoStub) ApplyTransition(ctx context.Context, connectionID uuid.UUID, t domain.Transition) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, t)
	s.appliedConnIDs = append(s.appliedConnIDs, connectionID)
	return nil
}

type accountRepoStub struct {
	store.AccountRepository

	accounts    []domain.BankAccount
	connections map[uuid.UUID]*domain.Connection

	activeCount int

	upserts        []upsertCall
	setPrimaryIDs  []uuid.UUID
	setPrimaryErr  error
	deactivatedIDs []uuid.UUID
	promoted       *uuid.UUID
	touchedIDs     []uuid.UUID

	attachedTokens  map[uuid.UUID]string
	attachedSources map[uuid.UUID]*string
}

type upsertCall struct {
	account        domain.BankAccount
	defaultPrimary bool
}

// UpsertByPlaidAccountID mirrors the ON CONFLICT (plaid_account_id)
// semantics: an existing row is refreshed and reactivated, keeping its id
// and primary flag; defaultPrimary only applies to new rows.
func (s *accountRepoStub) UpsertByPlaidAccountID(ctx context.Context, account *domain.BankAccount, defaultPrimary bool) (*domain.BankAccount, error) {
	s.upserts = append(s.upserts, upsertCall{account: *account, defaultPrimary: defaultPrimary})
	for i := range s.accounts {
		if s.accounts[i].PlaidAccountID == account.PlaidAccountID {
			s.accounts[i].Name = account.Name
			s.accounts[i].Type = account.Type
			s.accounts[i].Mask = account.Mask
			s.accounts[i].Status = domain.AccountActive
			out := s.accounts[i]
			return &out, nil
		}
	}
	out := *account
	out.ID = uuid.New()
	out.Status = domain.AccountActive
	out.IsPrimary = defaultPrimary
	s.accounts = append(s.accounts, out)
	return &out, nil
}

func (s *accountRepoStub) FindByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			return &s.accounts[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *accountRepoStub) FindWithConnection(ctx context.Context, id uuid.UUID) (*domain.BankAccount, *domain.Connection, error) {
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			return &s.accounts[i], s.connections[s.accounts[i].ConnectionID], nil
		}
	}
	return nil, nil, domain.ErrNotFound
}

func (s *accountRepoStub) ListByUserID(ctx context.Context, userID uuid.UUID, filter store.AccountFilter) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	for _, a := range s.accounts {
		if a.UserID != userID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.IsPrimary != nil && a.IsPrimary != *filter.IsPrimary {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *accountRepoStub) CountActiveByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.activeCount > 0 {
		return s.activeCount, nil
	}
	count := 0
	for _, a := range s.accounts {
		if a.UserID == userID && a.Status == domain.AccountActive {
			count++
		}
	}
	return count, nil
}

func (s *accountRepoStub) SetPrimaryAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	if s.setPrimaryErr != nil {
		return s.setPrimaryErr
	}
	s.setPrimaryIDs = append(s.setPrimaryIDs, accountID)
	return nil
}

func (s *accountRepoStub) DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) (*uuid.UUID, error) {
	s.deactivatedIDs = append(s.deactivatedIDs, accountID)
	return s.promoted, nil
}

func (s *accountRepoStub) AttachProcessorToken(ctx context.Context, accountID uuid.UUID, processorToken string, stripeBankAccountID *string) error {
	if s.attachedTokens == nil {
		s.attachedTokens = make(map[uuid.UUID]string)
		s.attachedSources = make(map[uuid.UUID]*string)
	}
	s.attachedTokens[accountID] = processorToken
	s.attachedSources[accountID] = stripeBankAccountID
	return nil
}

func (s *accountRepoStub) TouchProcessorToken(ctx context.Context, accountID uuid.UUID) error {
	s.touchedIDs = append(s.touchedIDs, accountID)
	return nil
}

func (s *accountRepoStub) ListActiveMissingProcessorToken(ctx context.Context, limit int) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	for _, a := range s.accounts {
		if a.Status == domain.AccountActive && !a.HasProcessorToken() {
			out = append(out, a)
		}
	}
	return out, nil
}

type plaidStub struct {
	exchangeResp *domain.ExchangePublicTokenResponse
	exchangeErr  error

	itemResp *domain.GetItemResponse
	itemErr  error

	institutionResp *domain.GetInstitutionResponse
	institutionErr  error

	accountsResp *domain.GetAccountsResponse
	accountsErr  error

	processorToken string
	processorErr   error
	mintCalls      int
	mintAccountIDs []string
}

func (s *plaidStub) ExchangePublicToken(ctx context.Context, publicToken string) (*domain.ExchangePublicTokenResponse, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.exchangeResp, nil
}

func (s *plaidStub) GetItem(ctx context.Context, accessToken string) (*domain.GetItemResponse, error) {
	if s.itemErr != nil {
		return nil, s.itemErr
	}
	return s.itemResp, nil
}

func (s *plaidStub) GetInstitution(ctx context.Context, institutionID string) (*domain.GetInstitutionResponse, error) {
	if s.institutionErr != nil {
		return nil, s.institutionErr
	}
	return s.institutionResp, nil
}

func (s *plaidStub) GetAccounts(ctx context.Context, accessToken string) (*domain.GetAccountsResponse, error) {
	if s.accountsErr != nil {
		return nil, s.accountsErr
	}
	return s.accountsResp, nil
}

func (s *plaidStub) CreateStripeProcessorToken(ctx context.Context, accessToken, accountID string) (*domain.CreateProcessorTokenResponse, error) {
	s.mintCalls++
	s.mintAccountIDs = append(s.mintAccountIDs, accountID)
	if s.processorErr != nil {
		return nil, s.processorErr
	}
	return &domain.CreateProcessorTokenResponse{StripeBankAccountToken: s.processorToken}, nil
}

type stripeStub struct {
	customer    *stripeclient.Customer
	customerErr error

	source    *stripeclient.BankAccountSource
	sourceErr error

	createCustomerCalls int
	sourceCalls         int
}

func (s *stripeStub) CreateCustomer(ctx context.Context, email string) (*stripeclient.Customer, error) {
	s.createCustomerCalls++
	if s.customerErr != nil {
		return nil, s.customerErr
	}
	if s.customer == nil {
		return &stripeclient.Customer{ID: "cus_stub", Email: email}, nil
	}
	return s.customer, nil
}

func (s *stripeStub) CreateBankAccountSource(ctx context.Context, customerID, processorToken string) (*stripeclient.BankAccountSource, error) {
	s.sourceCalls++
	if s.sourceErr != nil {
		return nil, s.sourceErr
	}
	if s.source == nil {
		return &stripeclient.BankAccountSource{ID: "ba_stub"}, nil
	}
	return s.source, nil
}

// vaultStub encrypts by prefixing, so tests can assert that only sealed
// values reach the repositories.
type vaultStub struct{}

func (vaultStub) Encrypt(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

func (vaultStub) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "sealed:") {
		return "", errors.New("not a sealed value")
	}
	return strings.TrimPrefix(ciphertext, "sealed:"), nil
}

type publisherStub struct {
	routingKeys []string
	payloads    []interface{}
}

func (s *publisherStub) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	s.routingKeys = append(s.routingKeys, routingKey)
	s.payloads = append(s.payloads, payload)
	return nil
}

type serviceFixture struct {
	users     *userRepoStub
	conns     *connRepoStub
	accounts  *accountRepoStub
	plaid     *plaidStub
	stripe    *stripeStub
	publisher *publisherStub
	service   *LinkService
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		users:     &userRepoStub{},
		conns:     &connRepoStub{},
		accounts:  &accountRepoStub{connections: make(map[uuid.UUID]*domain.Connection)},
		plaid:     &plaidStub{},
		stripe:    &stripeStub{},
		publisher: &publisherStub{},
	}
	f.service = NewLinkService(f.users, f.conns, f.accounts, f.plaid, f.stripe, vaultStub{}, f.publisher)
	return f
}

// seedAccount registers an account and its parent connection with the stubs.
func (f *serviceFixture) seedAccount(user *domain.User, accountType string, status domain.AccountStatus, isPrimary bool) *domain.BankAccount {
	conn := domain.Connection{
		ID:                   uuid.New(),
		UserID:               user.ID,
		PlaidItemID:          "item-" + uuid.NewString(),
		EncryptedAccessToken: "sealed:access-" + uuid.NewString(),
		InstitutionName:      "Test Bank",
		Status:               domain.ConnectionActive,
	}
	f.conns.conns = append(f.conns.conns, conn)

	account := domain.BankAccount{
		ID:             uuid.New(),
		UserID:         user.ID,
		ConnectionID:   conn.ID,
		PlaidAccountID: "acct-" + uuid.NewString(),
		Name:           "Test " + accountType,
		Type:           accountType,
		Status:         status,
		IsPrimary:      isPrimary,
		CreatedAt:      time.Now(),
	}
	f.accounts.accounts = append(f.accounts.accounts, account)
	f.accounts.connections[conn.ID] = &f.conns.conns[len(f.conns.conns)-1]
	return &f.accounts.accounts[len(f.accounts.accounts)-1]
}

func (f *serviceFixture) caller(t *testing.T) *domain.User {
	t.Helper()
	user, err := f.users.GetOrCreateByClerkID(context.Background(), "user_caller", nil)
	if err != nil {
		t.Fatalf("failed to seed caller: %v", err)
	}
	return user
}

func TestGetAccount_ForeignOwnerIsForbidden(t *testing.T) {
	f := newServiceFixture()
	f.caller(t)

	other := &domain.User{ID: uuid.New()}
	foreign := f.seedAccount(other, "checking", domain.AccountActive, true)

	_, err := f.service.GetAccount(context.Background(), "user_caller", foreign.ID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetAccount_UnknownIDIsNotFound(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.GetAccount(context.Background(), "user_caller", uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveAccount_DelegatesToRepository(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	account := f.seedAccount(user, "checking", domain.AccountActive, true)

	if err := f.service.RemoveAccount(context.Background(), "user_caller", account.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(f.accounts.deactivatedIDs) != 1 || f.accounts.deactivatedIDs[0] != account.ID {
		t.Fatal("expected the account to be deactivated")
	}
}

func TestRepairPrimary_NoOpWhenPrimaryExists(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	f.seedAccount(user, "savings", domain.AccountActive, true)
	f.seedAccount(user, "checking", domain.AccountActive, false)

	promoted, err := f.service.RepairPrimary(context.Background(), "user_caller")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if promoted != nil {
		t.Fatalf("expected no promotion, got %s", promoted)
	}
	if len(f.accounts.setPrimaryIDs) != 0 {
		t.Fatal("expected no SetPrimaryAccount call when the invariant holds")
	}
}

func TestRepairPrimary_PromotesCheckingOverOlderSavings(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)

	savings := f.seedAccount(user, "savings", domain.AccountActive, false)
	savings.CreatedAt = time.Now().Add(-48 * time.Hour)
	checking := f.seedAccount(user, "checking", domain.AccountActive, false)

	promoted, err := f.service.RepairPrimary(context.Background(), "user_caller")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if promoted == nil || *promoted != checking.ID {
		t.Fatal("expected the checking account to be promoted")
	}
	if len(f.accounts.setPrimaryIDs) != 1 || f.accounts.setPrimaryIDs[0] != checking.ID {
		t.Fatal("expected SetPrimaryAccount for the checking account")
	}
}

func TestRepairPrimary_NoActiveAccountsIsValidEmptyState(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	f.seedAccount(user, "checking", domain.AccountInactive, false)

	promoted, err := f.service.RepairPrimary(context.Background(), "user_caller")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if promoted != nil {
		t.Fatalf("expected no promotion, got %s", promoted)
	}
}

func TestCreateProcessorToken_ReusesCachedToken(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	account := f.seedAccount(user, "checking", domain.AccountActive, true)
	cached := "btok_cached"
	account.StripeProcessorToken = &cached

	token, err := f.service.CreateProcessorToken(context.Background(), "user_caller", account.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if token != cached {
		t.Fatalf("expected cached token %q, got %q", cached, token)
	}
	if f.plaid.mintCalls != 0 {
		t.Fatal("expected no mint call for a cached token")
	}
	if len(f.accounts.touchedIDs) != 1 || f.accounts.touchedIDs[0] != account.ID {
		t.Fatal("expected the cached token's last-used time to be stamped")
	}
}

func TestCreateProcessorToken_RejectsInactiveAccount(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	account := f.seedAccount(user, "checking", domain.AccountInactive, false)

	_, err := f.service.CreateProcessorToken(context.Background(), "user_caller", account.ID)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if f.plaid.mintCalls != 0 {
		t.Fatal("expected no mint call for an inactive account")
	}
}

func TestCreateProcessorToken_MintsAndAttachesSource(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	customerID := "cus_123"
	user.StripeCustomerID = &customerID

	account := f.seedAccount(user, "checking", domain.AccountActive, true)
	f.plaid.processorToken = "btok_minted"
	f.stripe.source = &stripeclient.BankAccountSource{ID: "ba_456", Last4: "6789"}

	token, err := f.service.CreateProcessorToken(context.Background(), "user_caller", account.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if token != "btok_minted" {
		t.Fatalf("expected minted token, got %q", token)
	}
	if f.plaid.mintCalls != 1 || f.plaid.mintAccountIDs[0] != account.PlaidAccountID {
		t.Fatal("expected exactly one mint call for the account's provider id")
	}
	if got := f.accounts.attachedTokens[account.ID]; got != "btok_minted" {
		t.Fatalf("expected token persisted, got %q", got)
	}
	if src := f.accounts.attachedSources[account.ID]; src == nil || *src != "ba_456" {
		t.Fatal("expected the stripe source id persisted alongside the token")
	}
}

func TestCreateProcessorToken_StripeFailureStillPersistsToken(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	customerID := "cus_123"
	user.StripeCustomerID = &customerID

	account := f.seedAccount(user, "checking", domain.AccountActive, true)
	f.plaid.processorToken = "btok_minted"
	f.stripe.sourceErr = errors.New("stripe unavailable")

	token, err := f.service.CreateProcessorToken(context.Background(), "user_caller", account.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if token != "btok_minted" {
		t.Fatalf("expected minted token, got %q", token)
	}
	if got := f.accounts.attachedTokens[account.ID]; got != "btok_minted" {
		t.Fatal("expected the token persisted despite the source failure")
	}
	if src := f.accounts.attachedSources[account.ID]; src != nil {
		t.Fatalf("expected no source id, got %q", *src)
	}
}

func TestListAccounts_BuildsViewsWithInstitutionNames(t *testing.T) {
	f := newServiceFixture()
	user := f.caller(t)
	f.seedAccount(user, "checking", domain.AccountActive, true)
	f.seedAccount(user, "savings", domain.AccountActive, false)

	views, err := f.service.ListAccounts(context.Background(), "user_caller", store.AccountFilter{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	for _, v := range views {
		if v.InstitutionName != "Test Bank" {
			t.Errorf("expected institution name on view, got %q", v.InstitutionName)
		}
	}
}
