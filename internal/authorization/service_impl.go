package authorization

import (
	"context"
	_ "embed"
	"sort"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin = "role:admin"

	ObjectComputeProvider = "compute_provider"

	ActionComputeProviderRegister = "compute_provider.register"
)

var (
	ErrInvalidActor = ledgererr.New(ledgererr.InvalidInput, "invalid_actor")
	ErrForbidden    = ledgererr.New(ledgererr.Forbidden, "forbidden")
)

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Policy   *config.PolicyHolder
}

// Service resolves marketplace roles. Admin membership follows the
// admin_addresses list of the market policy, including hot reloads.
type Service struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	policy   *config.PolicyHolder

	mu     sync.Mutex
	synced string
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		policy:   p.Policy,
	}
}

// Authorize fails with ErrForbidden unless actor may perform action on object.
func (s *Service) Authorize(ctx context.Context, actor, object, action string) error {
	actor = callerctx.Normalize(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if err := s.syncAdmins(); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		obslogger.WithContext(ctx, s.log).Info("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *Service) IsAdmin(ctx context.Context, address string) (bool, error) {
	err := s.Authorize(ctx, address, ObjectComputeProvider, ActionComputeProviderRegister)
	switch {
	case err == nil:
		return true, nil
	case ledgererr.KindOf(err) == ledgererr.Forbidden, ledgererr.KindOf(err) == ledgererr.InvalidInput:
		return false, nil
	default:
		return false, err
	}
}

// syncAdmins reconciles role:admin groupings with the current policy.
func (s *Service) syncAdmins() error {
	admins := normalizedAdmins(s.policy.Get().AdminAddresses)
	key := strings.Join(admins, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.synced {
		return nil
	}

	want := make(map[string]struct{}, len(admins))
	for _, admin := range admins {
		want[admin] = struct{}{}
	}

	existing, err := s.enforcer.GetFilteredGroupingPolicy(1, RoleAdmin)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if _, ok := want[rule[0]]; ok {
			delete(want, rule[0])
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}
	for admin := range want {
		if _, err := s.enforcer.AddGroupingPolicy(admin, RoleAdmin); err != nil {
			return err
		}
	}

	s.synced = key
	s.log.Info("admin roles synced", zap.Int("admins", len(admins)))
	return nil
}

func normalizedAdmins(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		normalized := callerctx.Normalize(address)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleAdmin, ObjectComputeProvider, ActionComputeProviderRegister},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
