package gate

// Tool sets are composable building blocks for auto-approval tables.
// The fixed sets below encode the gate's built-in policy; hosts widen them
// via the gate policy file (config.LoadGatePolicy), never narrow them.

// ToolSetFileEdits contains the tools auto-approved in acceptEdits mode.
var ToolSetFileEdits = []string{
	"Write",
	"Edit",
	"MultiEdit",
	"CreateDirectory",
	"MoveFile",
	"CopyFile",
	"Rename",
}

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, set := range sets {
		for _, tool := range set {
			if _, exists := seen[tool]; !exists {
				seen[tool] = struct{}{}
				result = append(result, tool)
			}
		}
	}
	return result
}

func containsTool(set []string, tool string) bool {
	for _, t := range set {
		if t == tool {
			return true
		}
	}
	return false
}
