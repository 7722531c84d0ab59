// Package seed は初期ユーザーとコンパニオンの投入を提供する。
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/repository"
)

//go:embed default.yaml
var defaultFixture []byte

// Fixture は投入データ。
type Fixture struct {
	Users      []auth.CreateUserRequest `yaml:"users"`
	Companions []CompanionFixture       `yaml:"companions"`
}

// CompanionFixture はコンパニオン1件分の投入データ。
// Creatorsには割り当てるクリエイターのメールアドレスを列挙する。
type CompanionFixture struct {
	Name        string   `yaml:"name"`
	Role        string   `yaml:"role"`
	Category    string   `yaml:"category"`
	Avatar      string   `yaml:"avatar"`
	ColorClass  string   `yaml:"color_class"`
	Cost        int      `yaml:"cost"`
	Description string   `yaml:"description"`
	Quote       string   `yaml:"quote"`
	Rating      float64  `yaml:"rating"`
	Creators    []string `yaml:"creators"`
}

// Load はYAMLファイルから投入データを読み込む。pathが空の場合は組み込みのデータを使う。
func Load(path string) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse はYAMLを投入データとして解釈する。未知のキーはエラーにする。
func Parse(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	for i, c := range f.Companions {
		if c.Name == "" {
			return nil, fmt.Errorf("companion #%d: name is required", i+1)
		}
		if c.Cost < 0 {
			return nil, fmt.Errorf("companion %q: cost must not be negative", c.Name)
		}
	}
	return &f, nil
}

// Result は投入結果の件数。
type Result struct {
	UsersCreated       int
	UsersSkipped       int
	CompanionsCreated  int
	CompanionsSkipped  int
	AssignmentsCreated int
}

// Seeder は投入データをリポジトリに書き込む。
// 同名のコンパニオンと同じメールアドレスのユーザーは作成しないため、繰り返し実行できる。
type Seeder struct {
	auth        *auth.Service
	users       repository.UserRepository
	companions  repository.CompanionRepository
	assignments repository.AssignmentRepository
	now         func() time.Time
}

// NewSeeder はSeederを生成する。
func NewSeeder(
	authSvc *auth.Service,
	users repository.UserRepository,
	companions repository.CompanionRepository,
	assignments repository.AssignmentRepository,
) *Seeder {
	return &Seeder{
		auth:        authSvc,
		users:       users,
		companions:  companions,
		assignments: assignments,
		now:         time.Now,
	}
}

// Run は投入データを書き込む。
func (s *Seeder) Run(ctx context.Context, f *Fixture) (*Result, error) {
	res := &Result{}

	var adminID string
	for _, req := range f.Users {
		existing, err := s.users.FindByEmail(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("find user %s: %w", req.Email, err)
		}
		if existing != nil {
			res.UsersSkipped++
			if existing.Role.IsAdmin() && adminID == "" {
				adminID = existing.ID
			}
			continue
		}
		u, err := s.auth.CreateUser(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("create user %s: %w", req.Email, err)
		}
		if u.Role.IsAdmin() && adminID == "" {
			adminID = u.ID
		}
		res.UsersCreated++
	}

	current, err := s.companions.List(ctx, repository.CompanionFilter{IncludeDeleted: true})
	if err != nil {
		return nil, fmt.Errorf("list companions: %w", err)
	}
	byName := make(map[string]*model.Companion, len(current))
	for _, c := range current {
		byName[c.Name] = c
	}

	for _, cf := range f.Companions {
		c, ok := byName[cf.Name]
		if ok {
			res.CompanionsSkipped++
		} else {
			now := s.now()
			c = &model.Companion{
				ID:              uuid.New().String(),
				Name:            cf.Name,
				RoleDescription: cf.Role,
				Category:        cf.Category,
				AvatarEmoji:     cf.Avatar,
				ColorClass:      cf.ColorClass,
				CostPoints:      cf.Cost,
				Description:     cf.Description,
				Quote:           cf.Quote,
				Status:          model.CompanionStatusActive,
				Stats:           model.CompanionStats{Rating: cf.Rating},
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.companions.Create(ctx, c); err != nil {
				return nil, fmt.Errorf("create companion %s: %w", cf.Name, err)
			}
			byName[c.Name] = c
			res.CompanionsCreated++
		}

		for _, email := range cf.Creators {
			n, err := s.assign(ctx, c.ID, email, adminID)
			if err != nil {
				return nil, err
			}
			res.AssignmentsCreated += n
		}
	}

	slog.InfoContext(ctx, "seed completed",
		slog.Int("users_created", res.UsersCreated),
		slog.Int("users_skipped", res.UsersSkipped),
		slog.Int("companions_created", res.CompanionsCreated),
		slog.Int("companions_skipped", res.CompanionsSkipped),
		slog.Int("assignments_created", res.AssignmentsCreated),
	)
	return res, nil
}

func (s *Seeder) assign(ctx context.Context, companionID, email, assignedBy string) (int, error) {
	creator, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("find creator %s: %w", email, err)
	}
	if creator == nil || creator.Role != model.RoleCreator {
		return 0, fmt.Errorf("seed creator %s does not exist or is not a creator", email)
	}
	existing, err := s.assignments.Find(ctx, companionID, creator.ID)
	if err != nil {
		return 0, fmt.Errorf("find assignment: %w", err)
	}
	if existing != nil {
		return 0, nil
	}
	if assignedBy == "" {
		assignedBy = creator.ID
	}
	if err := s.assignments.Create(ctx, &model.CompanionAssignment{
		ID:          uuid.New().String(),
		CompanionID: companionID,
		CreatorID:   creator.ID,
		AssignedBy:  assignedBy,
		AssignedAt:  s.now(),
	}); err != nil {
		return 0, fmt.Errorf("create assignment: %w", err)
	}
	return 1, nil
}
