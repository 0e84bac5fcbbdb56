package gradestore

const Schema = `
CREATE TABLE IF NOT EXISTS user_course (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user TEXT NOT NULL,
	course TEXT NOT NULL,
	UNIQUE (user, course)
);

CREATE TABLE IF NOT EXISTS grade_snapshot (
	user_course_id INTEGER NOT NULL REFERENCES user_course (id),
	time INTEGER NOT NULL,
	value REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_grade_snapshot_course_time
ON grade_snapshot (user_course_id, time);
`
