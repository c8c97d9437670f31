package gateway

import (
	"fmt"

	"github.com/codefionn/parsec/internal/consts"
)

var planningSystemPrompt = fmt.Sprintf(`You decompose a user goal into a small ordered workflow of logical steps.
Do not produce shell commands. You receive a JSON object with the fields
user_prompt, session_context, conversation_history and preferences.

Respond with JSON only, exactly in this shape and with no other fields:
{"steps": [{"description": "..."}]}

Constraints:
- 1-%d steps
- each description is 3-14 words and starts with an imperative verb
- describe the logical workflow, not specific commands
- steps are actionable and sequential
- take the working directory, project type and available tools into account

Example:
{"steps": [{"description": "Create new Rust project structure"}, {"description": "Initialize git repository"}]}`, consts.MaxPlanSteps)

const stepSystemPrompt = `You produce shell commands for exactly one step of a workflow.
You receive a JSON object with the fields conversation, workflow, current_step,
execution_history, current_environment and error_context (null unless the
previous attempt failed). Commands listed in rejected_commands were turned down
by the user and must not be suggested again.

Respond with JSON only, exactly in this shape and with no other fields:
{"commands": [{"command": "...", "explanation": "..."}], "done": false}

Rules:
- the first command is the primary suggestion, further entries are alternatives
- each command is a single line for a POSIX shell, run in the current working directory
- each explanation is one short sentence
- prefer non-destructive commands and never use sudo unless the step requires it
- if the step is already satisfied by earlier results, return {"commands": [], "done": true}
- when error_context is present, propose a command that addresses that error`
