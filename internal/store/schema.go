package store

// schema is the SQLite DDL applied by [Open], one statement per entry. Every
// statement is idempotent. full_name is maintained by the two triggers, so
// writers never need to keep it in sync themselves. SQLite allows a single
// event per trigger, hence the insert/update pair.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patient (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL,
    last_name    TEXT NOT NULL,
    full_name    TEXT NOT NULL DEFAULT '',
    phone_number TEXT,
    email        TEXT,
    gender       TEXT CHECK(gender IN ('Male', 'Female', 'Other')),
    birthday     DATE NOT NULL,
    address      TEXT,
    note         TEXT
)`,
	`CREATE TABLE IF NOT EXISTS appointment (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    id_patient     INTEGER NOT NULL,
    date           DATETIME NOT NULL,
    diagnose_text  TEXT,
    diagnose_sound TEXT,
    FOREIGN KEY (id_patient) REFERENCES patient(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_full_name ON patient(full_name)`,
	`CREATE INDEX IF NOT EXISTS idx_appointment_patient ON appointment(id_patient)`,
	`CREATE TRIGGER IF NOT EXISTS insert_full_name
AFTER INSERT ON patient
FOR EACH ROW
BEGIN
    UPDATE patient SET full_name = NEW.name || ' ' || NEW.last_name WHERE id = NEW.id;
END`,
	`CREATE TRIGGER IF NOT EXISTS update_full_name
AFTER UPDATE OF name, last_name ON patient
FOR EACH ROW
BEGIN
    UPDATE patient SET full_name = NEW.name || ' ' || NEW.last_name WHERE id = NEW.id;
END`,
}
