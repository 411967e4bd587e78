package realty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres Store. Every WithTx call is one read committed
// transaction; Lock* methods use SELECT ... FOR UPDATE.
type PgStore struct{ DB *pgxpool.Pool }

func (s *PgStore) WithTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgRepo struct{ tx pgx.Tx }

const uniqueViolation = "23505"

// noRows maps pgx.ErrNoRows onto a NotFound domain error.
func noRows(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(entity, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const propertyCols = `id, title, owner_id, status`

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(&p.ID, &p.Title, &p.OwnerID, &p.Status)
	return p, err
}

func (r *pgRepo) GetProperty(ctx context.Context, id string) (Property, error) {
	p, err := scanProperty(r.tx.QueryRow(ctx, `SELECT `+propertyCols+` FROM properties WHERE id=$1`, id))
	return p, noRows(err, "property", id)
}

func (r *pgRepo) LockProperty(ctx context.Context, id string) (Property, error) {
	p, err := scanProperty(r.tx.QueryRow(ctx, `SELECT `+propertyCols+` FROM properties WHERE id=$1 FOR UPDATE`, id))
	return p, noRows(err, "property", id)
}

func (r *pgRepo) LockProperties(ctx context.Context, ids []string) ([]Property, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+propertyCols+` FROM properties
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepo) SetPropertyStatus(ctx context.Context, id string, s PropertyStatus) error {
	ct, err := r.tx.Exec(ctx, `UPDATE properties SET status=$2, updated_at=now() WHERE id=$1`, id, s)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFound("property", id)
	}
	return nil
}

func (r *pgRepo) ReservedWithoutLiveReservation(ctx context.Context, now time.Time) ([]string, error) {
	return r.ids(ctx, `
		SELECT p.id FROM properties p
		WHERE p.status = 'reserved'
		  AND NOT EXISTS (
			SELECT 1 FROM reservations r
			WHERE r.property_id = p.id AND r.active AND r.expires_at > $1)
		ORDER BY p.id`, now)
}

const clientCols = `id, COALESCE(user_id, ''), name, email`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email)
	return c, err
}

func (r *pgRepo) GetClient(ctx context.Context, id string) (Client, error) {
	c, err := scanClient(r.tx.QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id=$1`, id))
	return c, noRows(err, "client", id)
}

func (r *pgRepo) ClientByUser(ctx context.Context, userID string) (Client, error) {
	c, err := scanClient(r.tx.QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE user_id=$1`, userID))
	return c, noRows(err, "client for user", userID)
}

const reservationCols = `id, property_id, client_id, created_by, state, active, created_at, expires_at, amount, notes`

func scanReservation(row pgx.Row) (Reservation, error) {
	var x Reservation
	err := row.Scan(&x.ID, &x.PropertyID, &x.ClientID, &x.CreatedBy, &x.State, &x.Active,
		&x.CreatedAt, &x.ExpiresAt, &x.Amount, &x.Notes)
	return x, err
}

func (r *pgRepo) InsertReservation(ctx context.Context, x Reservation) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO reservations(`+reservationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		x.ID, x.PropertyID, x.ClientID, x.CreatedBy, x.State, x.Active, x.CreatedAt, x.ExpiresAt, x.Amount, x.Notes)
	return err
}

func (r *pgRepo) GetReservation(ctx context.Context, id string) (Reservation, error) {
	x, err := scanReservation(r.tx.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id=$1`, id))
	return x, noRows(err, "reservation", id)
}

func (r *pgRepo) LockReservation(ctx context.Context, id string) (Reservation, error) {
	x, err := scanReservation(r.tx.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id=$1 FOR UPDATE`, id))
	return x, noRows(err, "reservation", id)
}

func (r *pgRepo) UpdateReservation(ctx context.Context, x Reservation) error {
	ct, err := r.tx.Exec(ctx, `
		UPDATE reservations SET state=$2, active=$3, expires_at=$4, amount=$5, notes=$6
		WHERE id=$1`, x.ID, x.State, x.Active, x.ExpiresAt, x.Amount, x.Notes)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFound("reservation", x.ID)
	}
	return nil
}

func (r *pgRepo) HasLiveReservation(ctx context.Context, propertyID string, now time.Time, excludeID string) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE property_id=$1 AND active AND expires_at > $2 AND id <> $3)`,
		propertyID, now, excludeID).Scan(&ok)
	return ok, err
}

func (r *pgRepo) DueReservationProperties(ctx context.Context, now time.Time) ([]string, error) {
	return r.ids(ctx, `
		SELECT DISTINCT property_id FROM reservations
		WHERE active AND state IN ('pending','confirmed') AND expires_at <= $1
		ORDER BY property_id`, now)
}

func (r *pgRepo) ExpireDue(ctx context.Context, propertyIDs []string, now time.Time) (int, error) {
	if len(propertyIDs) == 0 {
		return 0, nil
	}
	ct, err := r.tx.Exec(ctx, `
		UPDATE reservations SET state='expired', active=false
		WHERE property_id = ANY($1)
		  AND active AND state IN ('pending','confirmed') AND expires_at <= $2`,
		propertyIDs, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// whereBuilder collects AND-ed conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) add(cond string) { b.conds = append(b.conds, cond) }

func (b *whereBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(b.conds, " AND ")
}

// reservationListQuery builds the listing query for f and its arguments.
func reservationListQuery(f ReservationFilter) (string, []any) {
	var b whereBuilder
	if f.State != "" {
		b.add("r.state = " + b.arg(f.State))
	}
	if f.PropertyID != "" {
		b.add("r.property_id = " + b.arg(f.PropertyID))
	}
	if f.From != nil {
		b.add("r.created_at >= " + b.arg(*f.From))
	}
	if f.To != nil {
		b.add("r.created_at <= " + b.arg(*f.To))
	}
	if f.OwnerID != "" {
		b.add("p.owner_id = " + b.arg(f.OwnerID))
	}
	if f.ClientUserID != "" {
		b.add("c.user_id = " + b.arg(f.ClientUserID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := b.arg("%" + s + "%")
		b.add("(c.name ILIKE " + p + " OR c.email ILIKE " + p + " OR p.title ILIKE " + p + ")")
	}

	q := `
		SELECT r.id, r.property_id, r.client_id, r.created_by, r.state, r.active, r.created_at,
		       r.expires_at, r.amount, r.notes, p.title, c.name, c.email
		FROM reservations r
		JOIN properties p ON p.id = r.property_id
		JOIN clients c ON c.id = r.client_id` + b.where()
	q += "\n\t\tORDER BY r.created_at DESC, r.id"
	if f.Limit > 0 {
		q += " LIMIT " + b.arg(f.Limit)
	}
	return q, b.args
}

func (r *pgRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]ReservationView, error) {
	q, args := reservationListQuery(f)
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReservationView
	for rows.Next() {
		var v ReservationView
		x := &v.Reservation
		if err := rows.Scan(&x.ID, &x.PropertyID, &x.ClientID, &x.CreatedBy, &x.State, &x.Active,
			&x.CreatedAt, &x.ExpiresAt, &x.Amount, &x.Notes, &v.PropertyTitle, &v.ClientName, &v.ClientEmail); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *pgRepo) InsertReservationNote(ctx context.Context, n ReservationNote) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO reservation_notes(id, reservation_id, author_id, text, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		n.ID, n.ReservationID, n.AuthorID, n.Text, n.CreatedAt)
	return err
}

func (r *pgRepo) ListReservationNotes(ctx context.Context, reservationID string) ([]ReservationNote, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, reservation_id, author_id, text, created_at FROM reservation_notes
		WHERE reservation_id=$1 ORDER BY created_at DESC, id DESC`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReservationNote
	for rows.Next() {
		var n ReservationNote
		if err := rows.Scan(&n.ID, &n.ReservationID, &n.AuthorID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const contractCols = `id, property_id, client_id, type, signed_on, price, active, due_day, created_at`

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.PropertyID, &c.ClientID, &c.Type, &c.SignedOn, &c.Price, &c.Active, &c.DueDay, &c.CreatedAt)
	return c, err
}

func (r *pgRepo) InsertContract(ctx context.Context, c Contract) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO contracts(`+contractCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.PropertyID, c.ClientID, c.Type, c.SignedOn, c.Price, c.Active, c.DueDay, c.CreatedAt)
	if isUniqueViolation(err) {
		return conflictf("property %s already has an active contract", c.PropertyID)
	}
	return err
}

func (r *pgRepo) GetContract(ctx context.Context, id string) (Contract, error) {
	c, err := scanContract(r.tx.QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE id=$1`, id))
	return c, noRows(err, "contract", id)
}

func (r *pgRepo) LockContract(ctx context.Context, id string) (Contract, error) {
	c, err := scanContract(r.tx.QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE id=$1 FOR UPDATE`, id))
	return c, noRows(err, "contract", id)
}

func (r *pgRepo) SetContractActive(ctx context.Context, id string, active bool) error {
	ct, err := r.tx.Exec(ctx, `UPDATE contracts SET active=$2 WHERE id=$1`, id, active)
	if isUniqueViolation(err) {
		return conflictf("contract %s: property already has an active contract", id)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFound("contract", id)
	}
	return nil
}

func (r *pgRepo) HasActiveContract(ctx context.Context, propertyID, excludeID string) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM contracts WHERE property_id=$1 AND active AND id <> $2)`,
		propertyID, excludeID).Scan(&ok)
	return ok, err
}

const installmentCols = `id, contract_id, due_date, amount, paid, payment_id`

func scanInstallment(row pgx.Row) (Installment, error) {
	var in Installment
	err := row.Scan(&in.ID, &in.ContractID, &in.DueDate, &in.Amount, &in.Paid, &in.PaymentID)
	return in, err
}

func (r *pgRepo) InsertInstallmentIfAbsent(ctx context.Context, in Installment) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
		INSERT INTO installments(id, contract_id, due_date, amount, paid)
		VALUES ($1,$2,$3,$4,false)
		ON CONFLICT (contract_id, due_date) DO NOTHING`,
		in.ID, in.ContractID, in.DueDate, in.Amount)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *pgRepo) GetInstallment(ctx context.Context, id string) (Installment, error) {
	in, err := scanInstallment(r.tx.QueryRow(ctx, `SELECT `+installmentCols+` FROM installments WHERE id=$1`, id))
	return in, noRows(err, "installment", id)
}

func (r *pgRepo) LockInstallment(ctx context.Context, id string) (Installment, error) {
	in, err := scanInstallment(r.tx.QueryRow(ctx, `SELECT `+installmentCols+` FROM installments WHERE id=$1 FOR UPDATE`, id))
	return in, noRows(err, "installment", id)
}

func (r *pgRepo) MarkInstallmentPaid(ctx context.Context, id, paymentID string) error {
	ct, err := r.tx.Exec(ctx, `UPDATE installments SET paid=true, payment_id=$2 WHERE id=$1 AND NOT paid`, id, paymentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return statef("installment %s is already paid", id)
	}
	return nil
}

func (r *pgRepo) ListInstallments(ctx context.Context, contractID string) ([]Installment, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+installmentCols+` FROM installments
		WHERE contract_id=$1 ORDER BY due_date`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Installment
	for rows.Next() {
		in, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

const paymentCols = `id, contract_id, date, amount, method, note, receipt, created_at`

func (r *pgRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO payments(`+paymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.ContractID, p.Date, p.Amount, p.Method, p.Note, p.Receipt, p.CreatedAt)
	return err
}

func (r *pgRepo) ListPayments(ctx context.Context, contractID string) ([]Payment, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE contract_id=$1 ORDER BY date, created_at`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Date, &p.Amount, &p.Method, &p.Note, &p.Receipt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const notificationCols = `id, user_id, title, message, kind, read, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind, &n.Read, &n.CreatedAt)
	return n, err
}

func notificationListQuery(f NotificationFilter) (string, []any) {
	var b whereBuilder
	if f.UserID != "" {
		b.add("user_id = " + b.arg(f.UserID))
	}
	if f.Kind != "" {
		b.add("kind = " + b.arg(f.Kind))
	}
	if f.Read != nil {
		b.add("read = " + b.arg(*f.Read))
	}
	q := `SELECT ` + notificationCols + ` FROM notifications` + b.where() + "\n\t\tORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT " + b.arg(f.Limit)
	}
	return q, b.args
}

func (r *pgRepo) ListNotifications(ctx context.Context, f NotificationFilter) ([]Notification, error) {
	q, args := notificationListQuery(f)
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *pgRepo) MarkNotificationRead(ctx context.Context, id, userID string) (Notification, error) {
	n, err := scanNotification(r.tx.QueryRow(ctx, `
		UPDATE notifications SET read=true
		WHERE id=$1 AND ($2::text = '' OR user_id=$2)
		RETURNING `+notificationCols, id, userID))
	return n, noRows(err, "notification", id)
}

func (r *pgRepo) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	ct, err := r.tx.Exec(ctx, `
		UPDATE notifications SET read=true
		WHERE NOT read AND ($1::text = '' OR user_id=$1)`, userID)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r *pgRepo) CountNotifications(ctx context.Context, userID string) (map[NotificationKind]NotificationTally, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT kind, count(*), count(*) FILTER (WHERE NOT read)
		FROM notifications
		WHERE $1::text = '' OR user_id=$1
		GROUP BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[NotificationKind]NotificationTally{}
	for rows.Next() {
		var (
			k NotificationKind
			t NotificationTally
		)
		if err := rows.Scan(&k, &t.Total, &t.Unread); err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, rows.Err()
}

func (r *pgRepo) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
