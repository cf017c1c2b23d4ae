package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type principalKey struct{}

// WithPrincipal attaches the acting principal to ctx.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the acting principal, if any.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok && p.UserID != ""
}

// PrivilegeType is the level of access requested on an entity type.
type PrivilegeType int

const (
	PrivilegeRead PrivilegeType = iota + 1
	PrivilegeModify
	PrivilegeWrite
)

func (p PrivilegeType) String() string {
	switch p {
	case PrivilegeRead:
		return "READ"
	case PrivilegeModify:
		return "MODIFY"
	case PrivilegeWrite:
		return "WRITE"
	default:
		return "NONE"
	}
}

// grant describes what a role may do on an entity type. Institutional
// access is limited to the principal's institution, ownership access to
// entities the principal owns.
type grant struct {
	base          PrivilegeType
	institutional PrivilegeType
	ownership     PrivilegeType
}

// AuthorizationService checks role based privileges on entities.
type AuthorizationService struct {
	grants map[models.UserRole]map[models.EntityType]grant
	logger *zap.Logger
}

// NewAuthorizationService constructs the service with the default grant table.
func NewAuthorizationService(logger *zap.Logger) *AuthorizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationService{grants: defaultGrants(), logger: logger}
}

func defaultGrants() map[models.UserRole]map[models.EntityType]grant {
	all := []models.EntityType{
		models.EntityTypeInstitution, models.EntityTypeLmsSetup, models.EntityTypeUser, models.EntityTypeExam,
		models.EntityTypeIndicator, models.EntityTypeSEBClientConfiguration, models.EntityTypeExamConfigurationMap,
		models.EntityTypeClientConnection, models.EntityTypeConfigurationNode, models.EntityTypeBatchAction,
	}
	grants := map[models.UserRole]map[models.EntityType]grant{
		models.RoleSEBServerAdmin:     {},
		models.RoleInstitutionalAdmin: {},
		models.RoleExamAdmin:          {},
		models.RoleExamSupporter:      {},
	}
	for _, t := range all {
		grants[models.RoleSEBServerAdmin][t] = grant{base: PrivilegeWrite}
		grants[models.RoleInstitutionalAdmin][t] = grant{institutional: PrivilegeWrite}
	}
	grants[models.RoleInstitutionalAdmin][models.EntityTypeInstitution] = grant{institutional: PrivilegeModify}

	for _, t := range []models.EntityType{
		models.EntityTypeExam, models.EntityTypeIndicator, models.EntityTypeExamConfigurationMap,
		models.EntityTypeClientConnection, models.EntityTypeConfigurationNode,
		models.EntityTypeSEBClientConfiguration, models.EntityTypeBatchAction,
	} {
		grants[models.RoleExamAdmin][t] = grant{institutional: PrivilegeWrite}
	}
	grants[models.RoleExamAdmin][models.EntityTypeLmsSetup] = grant{institutional: PrivilegeRead}
	grants[models.RoleExamAdmin][models.EntityTypeUser] = grant{ownership: PrivilegeModify}

	for _, t := range []models.EntityType{
		models.EntityTypeExam, models.EntityTypeIndicator, models.EntityTypeClientConnection,
		models.EntityTypeConfigurationNode, models.EntityTypeBatchAction,
	} {
		grants[models.RoleExamSupporter][t] = grant{institutional: PrivilegeRead, ownership: PrivilegeWrite}
	}
	grants[models.RoleExamSupporter][models.EntityTypeUser] = grant{ownership: PrivilegeModify}
	return grants
}

// Check verifies the principal holds privilege on entityType within institutionID.
// Ownership grants are not considered without a concrete entity.
func (s *AuthorizationService) Check(ctx context.Context, privilege PrivilegeType, entityType models.EntityType, institutionID string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return appErrors.ErrUnauthorized
	}
	g := s.grants[p.Role][entityType]
	if g.base >= privilege || (g.institutional >= privilege && p.InstitutionID == institutionID) {
		return nil
	}
	return s.deny(p, privilege, entityType, "")
}

// CheckWrite verifies the principal may write the given entity.
func (s *AuthorizationService) CheckWrite(ctx context.Context, entity models.GrantEntity) error {
	return s.checkEntity(ctx, PrivilegeWrite, entity)
}

// CheckModify verifies the principal may modify the given entity.
func (s *AuthorizationService) CheckModify(ctx context.Context, entity models.GrantEntity) error {
	return s.checkEntity(ctx, PrivilegeModify, entity)
}

// CheckRead verifies the principal may read the given entity.
func (s *AuthorizationService) CheckRead(ctx context.Context, entity models.GrantEntity) error {
	return s.checkEntity(ctx, PrivilegeRead, entity)
}

func (s *AuthorizationService) checkEntity(ctx context.Context, privilege PrivilegeType, entity models.GrantEntity) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return appErrors.ErrUnauthorized
	}
	key := entity.Key()
	g := s.grants[p.Role][key.EntityType]
	switch {
	case g.base >= privilege:
		return nil
	case g.institutional >= privilege && p.InstitutionID == entity.InstitutionRef():
		return nil
	case g.ownership >= privilege && p.InstitutionID == entity.InstitutionRef() && p.UserID == entity.OwnerRef():
		return nil
	}
	return s.deny(p, privilege, key.EntityType, key.ModelID)
}

func (s *AuthorizationService) deny(p models.Principal, privilege PrivilegeType, entityType models.EntityType, modelID string) error {
	s.logger.Sugar().Debugw("privilege denied",
		"user_id", p.UserID,
		"role", p.Role,
		"privilege", privilege.String(),
		"entity_type", entityType,
		"model_id", modelID,
	)
	msg := fmt.Sprintf("no %s privilege on %s", privilege, entityType)
	if modelID != "" {
		msg = fmt.Sprintf("%s %s", msg, modelID)
	}
	return appErrors.Clone(appErrors.ErrForbidden, msg)
}
