package mcpserver

// DirectiveContract describes how nbtag derives block tags, so that LLM
// consumers can write notebooks whose blocks select the way they intend.
const DirectiveContract = `# nbtag Tagging Contract

Notebooks are Jupyter files (` + "`" + `.ipynb` + "`" + `) or literate Markdown files
(` + "`" + `.md` + "`" + `) whose fenced ` + "`" + `starlark` + "`" + ` blocks are the code cells. Every code block
gets a set of tags; runs select blocks by tag.

## Where tags come from

Tags are collected in this order, duplicates dropped:

1. **Declared tags.** Jupyter cell metadata ` + "`" + `tags` + "`" + `, or the words after the
   language in a Markdown fence: ` + "```" + `starlark load cleanup` + "```" + `.
2. **Headings.** Every enclosing Markdown heading adds two tags: its text and
   its text with the hashes, e.g. ` + "`" + `Load data` + "`" + ` and ` + "`" + `## Load data` + "`" + `. A heading
   closes every heading at the same or a deeper level.
3. **Block scope.** A block whose first line is ` + "`" + `##block <name>` + "`" + ` opens the scope
   ` + "`" + `<name>` + "`" + `; it and every following block get the tag until a block whose first
   line is ` + "`" + `##lastblock` + "`" + `. That closing block is outside the scope. Opening a
   new scope replaces the current one.
4. **Inline tags.** Any other first line starting with ` + "`" + `#` + "`" + ` lists tags separated
   by spaces: ` + "`" + `# report export` + "`" + `.

A block with none of these is untagged. Directives are only read from the
first line of a code block and are ordinary comments to the interpreter.
` + "`" + `##block` + "`" + ` with no name is an error and the notebook does not load.

## Reserved tags

- ` + "`" + `__init__` + "`" + ` blocks run once when a session opens.
- ` + "`" + `__del__` + "`" + ` blocks run when a session closes or expires.
- ` + "`" + `__skip__` + "`" + ` blocks are left out of "run all" unless the blacklist is disabled.

## Run modes

- **all**: every block except blacklisted ones.
- **tag**: every block carrying the tag, in document order.
- **before**: every block before the first block carrying the tag.
- **after**: every block after the last block carrying the tag.

With ` + "`" + `strict` + "`" + `, a tag that no block carries is an error; otherwise nothing runs.
The namespace persists across runs of the same session.

## Example

` + "````" + `markdown
# ETL

` + "```" + `starlark __init__
rows = []
` + "```" + `

## Load

` + "```" + `starlark
##block extract
rows = [1, 2, 3]
` + "```" + `

` + "```" + `starlark
# validate
if len(rows) == 0:
    fail("no rows")
` + "```" + `

` + "```" + `starlark
##lastblock
print("loaded", len(rows))
` + "```" + `
` + "````" + `

The three blocks under the heading carry ` + "`" + `Load` + "`" + ` and ` + "`" + `## Load` + "`" + `. The
` + "`" + `extract` + "`" + ` scope covers the ` + "`" + `##block` + "`" + ` block and the ` + "`" + `validate` + "`" + ` block but not
the ` + "`" + `##lastblock` + "`" + ` block.
`
