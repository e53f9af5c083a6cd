package store

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    external_key TEXT UNIQUE,
    title        TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'published' CHECK (status IN ('draft', 'published')),
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_title ON articles(title);

CREATE TABLE IF NOT EXISTS article_metrics (
    article_id INTEGER NOT NULL REFERENCES articles(id),
    date       TEXT NOT NULL,
    pv         INTEGER NOT NULL DEFAULT 0 CHECK (pv >= 0),
    likes      INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
    comments   INTEGER NOT NULL DEFAULT 0 CHECK (comments >= 0),
    PRIMARY KEY (article_id, date)
);

CREATE INDEX IF NOT EXISTS idx_metrics_date ON article_metrics(date);

CREATE TABLE IF NOT EXISTS account_stats (
    date      TEXT PRIMARY KEY,
    followers INTEGER,
    revenue   INTEGER
);
`
