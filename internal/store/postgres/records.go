package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"clinicqueue/internal/models"
	"clinicqueue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	birthDateLayout = "2006-01-02"
	patientColumns  = `id, name, document, birth_date, phone, created_by, created_at, updated_at`
	serviceColumns  = `id, name, avg_service_time_minutes, created_at`
	triageColumns   = `id, patient_id, triagist_id, score, notes, created_at`
	userColumns     = `id, name, email, function, password_hash, created_at`
)

func scanPatient(row rowScanner) (models.Patient, error) {
	var patient models.Patient
	var document, phone, createdBy sql.NullString
	var birthDate time.Time
	if err := row.Scan(&patient.ID, &patient.Name, &document, &birthDate, &phone, &createdBy, &patient.CreatedAt, &patient.UpdatedAt); err != nil {
		return models.Patient{}, err
	}
	patient.Document = nullStringPtr(document)
	patient.Phone = nullStringPtr(phone)
	patient.CreatedBy = nullStringPtr(createdBy)
	patient.BirthDate = birthDate.Format(birthDateLayout)
	patient.CreatedAt = patient.CreatedAt.UTC()
	patient.UpdatedAt = patient.UpdatedAt.UTC()
	return patient, nil
}

func optionalString(value *string) interface{} {
	if value == nil {
		return nil
	}
	return nullIfEmpty(strings.TrimSpace(*value))
}

func parseBirthDate(value string) (time.Time, error) {
	birthDate, err := time.Parse(birthDateLayout, value)
	if err != nil {
		return time.Time{}, store.ValidationError{Fields: map[string]string{"birth_date": "must be a YYYY-MM-DD date"}}
	}
	return birthDate, nil
}

func (s *Store) ListPatients(ctx context.Context, query string, limit int) ([]models.Patient, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE $1 = '%%' OR name ILIKE $1 OR document ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list patients")
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (s *Store) RecentPatients(ctx context.Context, limit int) ([]models.Patient, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent patients")
	}
	defer rows.Close()
	return collectPatients(rows)
}

func collectPatients(rows pgx.Rows) ([]models.Patient, error) {
	patients := []models.Patient{}
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan patient")
		}
		patients = append(patients, patient)
	}
	return patients, errors.Wrap(rows.Err(), "iterate patients")
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, bool, error) {
	patient, err := scanPatient(s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Patient{}, false, nil
	}
	if err != nil {
		return models.Patient{}, false, errors.Wrap(err, "get patient")
	}
	return patient, true, nil
}

func (s *Store) CreatePatient(ctx context.Context, input store.PatientInput) (models.Patient, error) {
	birthDate, err := parseBirthDate(input.BirthDate)
	if err != nil {
		return models.Patient{}, err
	}
	now := time.Now().UTC()
	patient, err := scanPatient(s.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, document, birth_date, phone, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+patientColumns,
		uuid.NewString(), strings.TrimSpace(input.Name), optionalString(input.Document), birthDate,
		optionalString(input.Phone), nullIfEmpty(input.CreatedBy), now))
	if isPgError(err, uniqueViolation) {
		return models.Patient{}, store.ConflictError{Resource: "patient", Message: "document already registered"}
	}
	if err != nil {
		return models.Patient{}, errors.Wrap(err, "insert patient")
	}
	return patient, nil
}

func (s *Store) UpdatePatient(ctx context.Context, patientID string, input store.PatientInput) (models.Patient, bool, error) {
	birthDate, err := parseBirthDate(input.BirthDate)
	if err != nil {
		return models.Patient{}, false, err
	}
	patient, err := scanPatient(s.pool.QueryRow(ctx, `
		UPDATE patients
		SET name = $2, document = $3, birth_date = $4, phone = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+patientColumns,
		patientID, strings.TrimSpace(input.Name), optionalString(input.Document), birthDate,
		optionalString(input.Phone), time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Patient{}, false, nil
	}
	if isPgError(err, uniqueViolation) {
		return models.Patient{}, false, store.ConflictError{Resource: "patient", Message: "document already registered"}
	}
	if err != nil {
		return models.Patient{}, false, errors.Wrap(err, "update patient")
	}
	return patient, true, nil
}

func (s *Store) DeletePatient(ctx context.Context, patientID string) (bool, error) {
	return s.deleteUnlessActive(ctx, "patient", `DELETE FROM patients WHERE id = $1`, `patient_id`, patientID)
}

// deleteUnlessActive removes a patient or service row unless it still has
// active queue entries.
func (s *Store) deleteUnlessActive(ctx context.Context, resource, deleteQuery, column, id string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var active int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries WHERE `+column+` = $1 AND status = ANY($2)`,
		id, statusStrings(models.ActiveStatuses)).Scan(&active); err != nil {
		return false, errors.Wrapf(err, "count active entries for %s", resource)
	}
	if active > 0 {
		return false, store.ConflictError{Resource: resource, Message: "has active queue entries"}
	}
	tag, err := tx.Exec(ctx, deleteQuery, id)
	if isPgError(err, foreignKeyViolation) {
		return false, store.ConflictError{Resource: resource, Message: "still referenced"}
	}
	if err != nil {
		return false, errors.Wrapf(err, "delete %s", resource)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return tag.RowsAffected() > 0, nil
}

func scanService(row rowScanner) (models.Service, error) {
	var service models.Service
	if err := row.Scan(&service.ID, &service.Name, &service.AvgServiceTimeMinutes, &service.CreatedAt); err != nil {
		return models.Service{}, err
	}
	service.CreatedAt = service.CreatedAt.UTC()
	return service, nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list services")
	}
	defer rows.Close()

	services := []models.Service{}
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan service")
		}
		services = append(services, service)
	}
	return services, errors.Wrap(rows.Err(), "iterate services")
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, bool, error) {
	service, err := scanService(s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, serviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Service{}, false, nil
	}
	if err != nil {
		return models.Service{}, false, errors.Wrap(err, "get service")
	}
	return service, true, nil
}

func (s *Store) CreateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	service, err := scanService(s.pool.QueryRow(ctx, `
		INSERT INTO services (id, name, avg_service_time_minutes, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+serviceColumns,
		uuid.NewString(), strings.TrimSpace(input.Name), input.AvgServiceTimeMinutes, time.Now().UTC()))
	if isPgError(err, uniqueViolation) {
		return models.Service{}, store.ConflictError{Resource: "service", Message: "name already exists"}
	}
	if err != nil {
		return models.Service{}, errors.Wrap(err, "insert service")
	}
	return service, nil
}

func (s *Store) UpdateService(ctx context.Context, serviceID string, input store.ServiceInput) (models.Service, bool, error) {
	service, err := scanService(s.pool.QueryRow(ctx, `
		UPDATE services SET name = $2, avg_service_time_minutes = $3
		WHERE id = $1
		RETURNING `+serviceColumns,
		serviceID, strings.TrimSpace(input.Name), input.AvgServiceTimeMinutes))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Service{}, false, nil
	}
	if isPgError(err, uniqueViolation) {
		return models.Service{}, false, store.ConflictError{Resource: "service", Message: "name already exists"}
	}
	if err != nil {
		return models.Service{}, false, errors.Wrap(err, "update service")
	}
	return service, true, nil
}

func (s *Store) DeleteService(ctx context.Context, serviceID string) (bool, error) {
	return s.deleteUnlessActive(ctx, "service", `DELETE FROM services WHERE id = $1`, `service_id`, serviceID)
}

func (s *Store) DefaultServiceID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM services ORDER BY name ASC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "default service")
	}
	return id, true, nil
}

func scanTriage(row rowScanner) (models.Triage, error) {
	var triage models.Triage
	var triagistID sql.NullString
	if err := row.Scan(&triage.ID, &triage.PatientID, &triagistID, &triage.Score, &triage.Notes, &triage.CreatedAt); err != nil {
		return models.Triage{}, err
	}
	triage.TriagistID = triagistID.String
	triage.CreatedAt = triage.CreatedAt.UTC()
	return triage, nil
}

func (s *Store) CreateTriage(ctx context.Context, input store.TriageInput) (models.Triage, error) {
	triage, err := scanTriage(s.pool.QueryRow(ctx, `
		INSERT INTO triages (id, patient_id, triagist_id, score, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+triageColumns,
		uuid.NewString(), input.PatientID, nullIfEmpty(input.TriagistID), input.Score, input.Notes, time.Now().UTC()))
	if isPgError(err, foreignKeyViolation) {
		return models.Triage{}, store.ValidationError{Fields: map[string]string{"patient_id": "does not reference an existing patient"}}
	}
	if err != nil {
		return models.Triage{}, errors.Wrap(err, "insert triage")
	}
	return triage, nil
}

func (s *Store) ListTriagesByPatient(ctx context.Context, patientID string) ([]models.Triage, error) {
	return s.queryTriages(ctx, `SELECT `+triageColumns+` FROM triages WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
}

func (s *Store) ListTriages(ctx context.Context, filter store.TriageFilter) ([]models.Triage, error) {
	var where []string
	var args []any
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Score != 0 {
		args = append(args, filter.Score)
		where = append(where, fmt.Sprintf("score = $%d", len(args)))
	}
	query := `SELECT ` + triageColumns + ` FROM triages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryTriages(ctx, query, args...)
}

func (s *Store) GetTriage(ctx context.Context, triageID string) (models.TriageDetail, bool, error) {
	var detail models.TriageDetail
	var triagistID, triagistName, document sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.patient_id, t.triagist_id, t.score, t.notes, t.created_at,
		       p.name, p.document, u.name
		FROM triages t
		JOIN patients p ON p.id = t.patient_id
		LEFT JOIN users u ON u.id = t.triagist_id
		WHERE t.id = $1`, triageID).Scan(
		&detail.ID, &detail.PatientID, &triagistID, &detail.Score, &detail.Notes, &detail.CreatedAt,
		&detail.Patient.Name, &document, &triagistName)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TriageDetail{}, false, nil
	}
	if err != nil {
		return models.TriageDetail{}, false, errors.Wrap(err, "get triage")
	}
	detail.CreatedAt = detail.CreatedAt.UTC()
	detail.Patient.ID = detail.PatientID
	if document.Valid {
		detail.Patient.Document = &document.String
	}
	if triagistID.Valid {
		detail.TriagistID = triagistID.String
		detail.Triagist = &models.UserRef{ID: triagistID.String, Name: triagistName.String}
	}
	return detail, true, nil
}

// DeleteTriage removes the triage row only. A queue entry created from it
// keeps its priority.
func (s *Store) DeleteTriage(ctx context.Context, triageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triages WHERE id = $1`, triageID)
	if err != nil {
		return false, errors.Wrap(err, "delete triage")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) queryTriages(ctx context.Context, query string, args ...any) ([]models.Triage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list triages")
	}
	defer rows.Close()

	triages := []models.Triage{}
	for rows.Next() {
		triage, err := scanTriage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan triage")
		}
		triages = append(triages, triage)
	}
	return triages, errors.Wrap(rows.Err(), "iterate triages")
}

func (s *Store) CountTriages(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM triages`).Scan(&count)
	return count, errors.Wrap(err, "count triages")
}

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Function, &user.PasswordHash, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, errors.Wrap(err, "get user by email")
	}
	return user, true, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, bool, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, errors.Wrap(err, "get user")
	}
	return user, true, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		users = append(users, user)
	}
	return users, errors.Wrap(rows.Err(), "iterate users")
}

func (s *Store) CreateUser(ctx context.Context, input store.UserInput) (models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, function, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		uuid.NewString(), strings.TrimSpace(input.Name), strings.ToLower(strings.TrimSpace(input.Email)),
		input.Function, input.PasswordHash, time.Now().UTC()))
	if isPgError(err, uniqueViolation) {
		return models.User{}, store.ConflictError{Resource: "user", Message: "email already registered"}
	}
	if err != nil {
		return models.User{}, errors.Wrap(err, "insert user")
	}
	return user, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, errors.Wrap(err, "count users")
}
