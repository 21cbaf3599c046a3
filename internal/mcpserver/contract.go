package mcpserver

// NoteConventions documents how notes are read, for MCP clients that write
// notes meant to be found by date or title.
const NoteConventions = `# Note Conventions

Notes are UTF-8 Markdown files (` + "`.md`" + `) anywhere under the vault. Ids are paths relative
to the vault root with forward slashes. Hidden folders (.git, .obsidian) are ignored.

## Dates

1. A file name starting with ` + "`YYYY-MM-DD`" + ` dates the note (` + "`2025-01-02-standup.md`" + `).
2. Otherwise frontmatter ` + "`date`" + ` or ` + "`created`" + ` is used (first ten characters).
3. Notes without either are undated: they never match date queries or rolling windows,
   but remain searchable by content and file name.

## Titles

Frontmatter ` + "`title`" + `, else the first ` + "`# Heading`" + `, else the file name without extension.

## Tags

Frontmatter ` + "`tags`" + ` (YAML list or comma-separated string) plus inline ` + "`#tags`" + ` in the body.

## Example

` + "```" + `markdown
---
title: Weekly standup
tags: [meeting-notes]
---

Discussed the roadmap. #project-x
` + "```" + `

Saved as ` + "`journal/2025-01-20-standup.md`" + `, this note is dated 2025-01-20.
`
