package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

var (
	_ store.Repository = (*Repository)(nil)
	_ store.Directory  = (*Repository)(nil)
)

// Repository is the gorm-backed storage collaborator. Each Persist runs in a
// single transaction; versioned rows are updated with a version predicate and
// YTD counters with conditional gorm.Expr increments.
type Repository struct {
	db  *gorm.DB
	loc *time.Location
}

// NewRepository wraps an open database. Timestamps read back are converted
// to loc (UTC when nil).
func NewRepository(db *gorm.DB, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{db: db, loc: loc}
}

// DB returns the underlying connection
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func (r *Repository) LoadSnapshot(ctx context.Context, teamID string, window models.Period) (*models.Snapshot, error) {
	db := r.db.WithContext(ctx)

	team, err := r.loadTeam(db, teamID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(team.Memberships))
	for _, m := range team.Memberships {
		ids = append(ids, m.UserID)
	}
	users, err := r.loadUsers(db, ids)
	if err != nil {
		return nil, err
	}
	skills, err := r.loadSkills(db)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{Team: team, Users: users, Skills: skills}

	var templates []templateRow
	if err := db.Where("team_id = ? AND active = ?", teamID, true).Order("id").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	for _, t := range templates {
		snap.Templates = append(snap.Templates, t.model())
	}

	from, to := utc(window.From), utc(window.To)
	var instances []instanceRow
	err = db.Where("team_id = ? AND starts_at < ? AND ends_at > ?", teamID, to, from).
		Order("starts_at").Order("id").Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	for _, s := range instances {
		snap.Instances = append(snap.Instances, r.instanceModel(s))
	}

	if len(users) > 0 {
		members := make([]string, 0, len(users))
		for id := range users {
			members = append(members, id)
		}
		var assignments []assignmentRow
		err = db.Where("user_id IN ? AND starts_at < ? AND ends_at > ?", members, to, from).
			Order("starts_at").Order("id").Find(&assignments).Error
		if err != nil {
			return nil, fmt.Errorf("load assignments: %w", err)
		}
		for _, a := range assignments {
			snap.Assignments = append(snap.Assignments, r.assignmentModel(a))
		}
	}
	return snap, nil
}

func (r *Repository) LoadUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	users, err := r.loadUsers(r.db.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
	}
	return users, nil
}

// loadUsers returns the users among ids that exist, with their counters
func (r *Repository) loadUsers(db *gorm.DB, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []userRow
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	var ledger []ledgerRow
	if err := db.Where("user_id IN ?", ids).Find(&ledger).Error; err != nil {
		return nil, fmt.Errorf("load ytd counters: %w", err)
	}
	byUser := make(map[string][]ledgerRow)
	for _, l := range ledger {
		byUser[l.UserID] = append(byUser[l.UserID], l)
	}
	for _, row := range rows {
		out[row.ID] = r.userModel(row, byUser[row.ID])
	}
	return out, nil
}

func (r *Repository) LoadTeam(ctx context.Context, id string) (*models.Team, error) {
	return r.loadTeam(r.db.WithContext(ctx), id)
}

func (r *Repository) loadTeam(db *gorm.DB, id string) (*models.Team, error) {
	var row teamRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "team", id)
	}
	var memberships []membershipRow
	if err := db.Where("team_id = ?", id).Order("user_id").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	team := &models.Team{ID: row.ID, Name: row.Name, Active: row.Active}
	for _, m := range memberships {
		team.Memberships = append(team.Memberships, models.Membership{
			UserID: m.UserID,
			Role:   m.Role,
			Active: m.Active,
			From:   r.localPtr(m.From),
			Until:  r.localPtr(m.Until),
		})
	}
	return team, nil
}

func (r *Repository) LoadSkills(ctx context.Context) (models.SkillCatalog, error) {
	return r.loadSkills(r.db.WithContext(ctx))
}

func (r *Repository) loadSkills(db *gorm.DB) (models.SkillCatalog, error) {
	var rows []skillRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	out := make(models.SkillCatalog, len(rows))
	for _, s := range rows {
		out[s.ID] = s.model()
	}
	return out, nil
}

func (r *Repository) GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error) {
	var row templateRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "template", id)
	}
	t := row.model()
	return &t, nil
}

func (r *Repository) GetInstance(ctx context.Context, id string) (*models.ShiftInstance, error) {
	var row instanceRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "instance", id)
	}
	s := r.instanceModel(row)
	return &s, nil
}

func (r *Repository) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var row assignmentRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "assignment", id)
	}
	a := r.assignmentModel(row)
	return &a, nil
}

func (r *Repository) GetSwapRequest(ctx context.Context, id string) (*models.SwapRequest, error) {
	var row swapRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "swap request", id)
	}
	s := r.swapModel(row)
	return &s, nil
}

func (r *Repository) CreateSwapRequest(ctx context.Context, req *models.SwapRequest) error {
	if req.Version == 0 {
		req.Version = 1
	}
	row := toSwapRow(*req)
	if err := createVersioned(r.db.WithContext(ctx), &row, row.ID); err != nil {
		return fmt.Errorf("swap request %s: %w", req.ID, err)
	}
	return nil
}

func (r *Repository) UserAssignments(ctx context.Context, userID string, from, to time.Time) ([]models.Assignment, error) {
	var rows []assignmentRow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND starts_at < ? AND ends_at > ?", userID, utc(to), utc(from)).
		Order("starts_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load assignments of %s: %w", userID, err)
	}
	return r.assignments(rows), nil
}

func (r *Repository) InstanceAssignments(ctx context.Context, instanceID string) ([]models.Assignment, error) {
	var rows []assignmentRow
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).
		Order("starts_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load assignments of instance %s: %w", instanceID, err)
	}
	return r.assignments(rows), nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]models.Assignment, []models.SwapRequest, error) {
	db := r.db.WithContext(ctx)
	var rows []assignmentRow
	err := db.Where("status = ? AND confirmation_deadline > ? AND confirmation_deadline <= ?",
		string(models.AssignmentProposed), time.Time{}, utc(now)).
		Order("starts_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("list expired assignments: %w", err)
	}
	var swaps []swapRow
	err = db.Where("status = ? AND expires_at <= ?", string(models.SwapPending), utc(now)).
		Order("id").Find(&swaps).Error
	if err != nil {
		return nil, nil, fmt.Errorf("list expired swap requests: %w", err)
	}
	out := make([]models.SwapRequest, 0, len(swaps))
	for _, s := range swaps {
		out = append(out, r.swapModel(s))
	}
	return r.assignments(rows), out, nil
}

func (r *Repository) AssignmentHistory(ctx context.Context, assignmentID string) ([]models.AssignmentHistory, error) {
	var rows []historyRow
	if err := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load history of assignment %s: %w", assignmentID, err)
	}
	out := make([]models.AssignmentHistory, 0, len(rows))
	for _, h := range rows {
		out = append(out, r.historyModel(h))
	}
	return out, nil
}

func (r *Repository) PlanningRuns(ctx context.Context, teamID string, limit int) ([]models.PlanningRun, error) {
	q := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("started_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load planning runs of team %s: %w", teamID, err)
	}
	out := make([]models.PlanningRun, 0, len(rows))
	for _, run := range rows {
		out = append(out, r.runModel(run))
	}
	return out, nil
}

func (r *Repository) assignments(rows []assignmentRow) []models.Assignment {
	out := make([]models.Assignment, 0, len(rows))
	for _, a := range rows {
		out = append(out, r.assignmentModel(a))
	}
	return out
}

// Persist applies the whole commit in one transaction
func (r *Repository) Persist(ctx context.Context, c models.Commit) error {
	if c.IsEmpty() {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(c.Instances) > 0 {
			rows := make([]instanceRow, 0, len(c.Instances))
			for _, s := range c.Instances {
				rows = append(rows, toInstanceRow(s))
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("save instances: %w", err)
			}
		}
		for _, a := range c.Assignments {
			row := toAssignmentRow(a)
			if err := saveVersioned(tx, &row, row.ID, row.Version); err != nil {
				return fmt.Errorf("assignment %s: %w", a.ID, err)
			}
		}
		if err := checkHeadcount(tx, c.Assignments); err != nil {
			return err
		}
		for _, s := range c.SwapRequests {
			row := toSwapRow(s)
			if err := saveVersioned(tx, &row, row.ID, row.Version); err != nil {
				return fmt.Errorf("swap request %s: %w", s.ID, err)
			}
		}
		if len(c.GapScopes) > 0 {
			if err := tx.Where("instance_id IN ?", c.GapScopes).Delete(&gapRow{}).Error; err != nil {
				return fmt.Errorf("clear coverage gaps: %w", err)
			}
			if err := tx.Where("instance_id IN ?", c.GapScopes).Delete(&conflictRow{}).Error; err != nil {
				return fmt.Errorf("clear conflict records: %w", err)
			}
		}
		if len(c.CoverageGaps) > 0 {
			rows := make([]gapRow, 0, len(c.CoverageGaps))
			for _, g := range c.CoverageGaps {
				rows = append(rows, toGapRow(g))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save coverage gaps: %w", err)
			}
		}
		if len(c.Conflicts) > 0 {
			rows := make([]conflictRow, 0, len(c.Conflicts))
			for _, cr := range c.Conflicts {
				rows = append(rows, toConflictRow(cr))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save conflict records: %w", err)
			}
		}
		if len(c.History) > 0 {
			rows := make([]historyRow, 0, len(c.History))
			for _, h := range c.History {
				rows = append(rows, toHistoryRow(h))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save assignment history: %w", err)
			}
		}
		if len(c.Runs) > 0 {
			rows := make([]runRow, 0, len(c.Runs))
			for _, run := range c.Runs {
				rows = append(rows, toRunRow(run))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save planning runs: %w", err)
			}
		}
		for _, d := range c.YTDDeltas {
			if err := applyDelta(tx, d); err != nil {
				return fmt.Errorf("user %s category %s: %w", d.UserID, d.Category, err)
			}
		}
		return nil
	})
}

var occupyingStatuses = []string{
	string(models.AssignmentProposed),
	string(models.AssignmentConfirmed),
	string(models.AssignmentCompleted),
}

// checkHeadcount locks every stored instance that gains an occupant and
// fails when its occupying assignments now exceed the headcount. Instances
// are locked in id order.
func checkHeadcount(tx *gorm.DB, assignments []models.Assignment) error {
	var ids []string
	seen := make(map[string]bool)
	for _, a := range assignments {
		if a.Version == 1 && a.Status.Occupies() && !seen[a.InstanceID] {
			seen[a.InstanceID] = true
			ids = append(ids, a.InstanceID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		var inst instanceRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&inst).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lock instance %s: %w", id, err)
		}
		var occupied int64
		err = tx.Model(&assignmentRow{}).Where("instance_id = ? AND status IN ?", id, occupyingStatuses).Count(&occupied).Error
		if err != nil {
			return fmt.Errorf("count assignments of instance %s: %w", id, err)
		}
		if occupied > int64(inst.Headcount) {
			return fmt.Errorf("instance %s: %w", id, store.ErrInstanceFull)
		}
	}
	return nil
}

// createVersioned inserts a version 1 row, failing if the id is taken
func createVersioned[T any](tx *gorm.DB, row *T, id string) error {
	var n int64
	if err := tx.Model(new(T)).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return store.ErrOptimisticLock
	}
	if err := tx.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrOptimisticLock
		}
		return err
	}
	return nil
}

// saveVersioned creates version 1 rows and otherwise updates the row only
// while it still carries version-1
func saveVersioned[T any](tx *gorm.DB, row *T, id string, version int) error {
	switch {
	case version < 1:
		return store.ErrOptimisticLock
	case version == 1:
		return createVersioned(tx, row, id)
	}
	res := tx.Model(new(T)).Where("id = ? AND version = ?", id, version-1).Select("*").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrOptimisticLock
	}
	return nil
}

// applyDelta checks a delta against the current counters and applies it with
// an increment guarded by the values it was checked against
func applyDelta(tx *gorm.DB, d models.YTDDelta) error {
	var users int64
	if err := tx.Model(&userRow{}).Where("id = ?", d.UserID).Count(&users).Error; err != nil {
		return err
	}
	if users == 0 {
		return store.ErrNotFound
	}

	key := ledgerRow{UserID: d.UserID, Category: string(d.Category)}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&key).Error; err != nil {
		return fmt.Errorf("init ytd counters: %w", err)
	}
	var cur ledgerRow
	if err := tx.Where("user_id = ? AND category = ?", d.UserID, string(d.Category)).Take(&cur).Error; err != nil {
		return fmt.Errorf("read ytd counters: %w", err)
	}
	if err := store.CheckDelta(models.Counters{Weeks: cur.Weeks, Hours: cur.Hours}, d); err != nil {
		return err
	}

	res := tx.Model(&ledgerRow{}).
		Where("user_id = ? AND category = ? AND weeks = ? AND hours = ?", d.UserID, string(d.Category), cur.Weeks, cur.Hours).
		Updates(map[string]interface{}{
			"weeks": gorm.Expr("weeks + ?", d.Weeks),
			"hours": gorm.Expr("hours + ?", d.Hours),
		})
	if res.Error != nil {
		return fmt.Errorf("update ytd counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrOptimisticLock
	}
	return nil
}

// SaveUser upserts a user and replaces the counters of every category the
// user carries
func (r *Repository) SaveUser(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toUserRow(u)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
		for cat, c := range u.YTD {
			l := ledgerRow{UserID: u.ID, Category: string(cat), Weeks: c.Weeks, Hours: c.Hours}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&l).Error; err != nil {
				return fmt.Errorf("save ytd counters of %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// SaveTeam upserts a team and replaces its memberships
func (r *Repository) SaveTeam(ctx context.Context, t *models.Team) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := teamRow{ID: t.ID, Name: t.Name, Active: t.Active}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("save team %s: %w", t.ID, err)
		}
		if err := tx.Where("team_id = ?", t.ID).Delete(&membershipRow{}).Error; err != nil {
			return fmt.Errorf("clear memberships of %s: %w", t.ID, err)
		}
		if len(t.Memberships) == 0 {
			return nil
		}
		rows := make([]membershipRow, 0, len(t.Memberships))
		for _, m := range t.Memberships {
			rows = append(rows, membershipRow{
				TeamID: t.ID,
				UserID: m.UserID,
				Role:   m.Role,
				Active: m.Active,
				From:   utcPtr(m.From),
				Until:  utcPtr(m.Until),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("save memberships of %s: %w", t.ID, err)
		}
		return nil
	})
}

func (r *Repository) SaveTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	row := toTemplateRow(t)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

func (r *Repository) SaveSkill(ctx context.Context, s *models.Skill) error {
	row := toSkillRow(*s)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save skill %s: %w", s.ID, err)
	}
	return nil
}

// Gaps returns the stored coverage gaps of a team that overlap the window
func (r *Repository) Gaps(ctx context.Context, teamID string, window models.Period) ([]models.CoverageGap, error) {
	var rows []gapRow
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND starts_at < ? AND ends_at > ?", teamID, utc(window.To), utc(window.From)).
		Order("starts_at").Order("segment").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load coverage gaps: %w", err)
	}
	out := make([]models.CoverageGap, 0, len(rows))
	for _, g := range rows {
		out = append(out, r.gapModel(g))
	}
	return out, nil
}
