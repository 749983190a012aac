package evidence

// schema is applied on every open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS cards (
    id       INTEGER PRIMARY KEY CHECK (id > 0),
    fulltext TEXT NOT NULL
);
`
