package compile

import (
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/ids"
)

// NodeConfig is the typed per-node-type payload. Handlers type-assert the
// concrete struct for their node type.
type NodeConfig interface {
	nodeConfig()
}

// ExecutableNode is a compiled node: the validated raw payload plus its
// decoded typed config.
type ExecutableNode struct {
	ID     ids.NodeID             `json:"id"`
	Type   string                 `json:"type"`
	Label  string                 `json:"label"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Config NodeConfig             `json:"-"`
}

// BatchConfig activates batch mode on person_job and sub_diagram nodes.
type BatchConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	InputKey      string `json:"input_key,omitempty"`
	Parallel      bool   `json:"parallel,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
}

type StartConfig struct {
	TriggerMode string                 `json:"trigger_mode,omitempty"`
	CustomData  map[string]interface{} `json:"custom_data,omitempty"`
}

type EndpointConfig struct {
	SaveToFile bool   `json:"save_to_file,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
}

type PersonJobConfig struct {
	Person              ids.PersonID `json:"person,omitempty"`
	MaxIteration        int          `json:"max_iteration,omitempty"`
	Prompt              string       `json:"default_prompt,omitempty"`
	FirstPrompt         string       `json:"first_only_prompt,omitempty"`
	PromptFile          string       `json:"prompt_file,omitempty"`
	ResolvedPrompt      string       `json:"resolved_prompt,omitempty"`
	ResolvedFirstPrompt string       `json:"resolved_first_prompt,omitempty"`
	Batch               BatchConfig  `json:"batch,omitempty"`
}

// Condition type constants
const (
	ConditionTypeCustom             = "custom"
	ConditionTypeDetectMaxIteration = "detect_max_iterations"
	ConditionTypeNodesExecuted      = "check_nodes_executed"
	ConditionTypeLLMDecision        = "llm_decision"
)

type ConditionConfig struct {
	ConditionType string       `json:"condition_type"`
	Expression    string       `json:"expression,omitempty"`
	NodeIndices   []string     `json:"node_indices,omitempty"`
	Person        ids.PersonID `json:"person,omitempty"`
	JudgeBy       string       `json:"judge_by,omitempty"`
}

type CodeJobConfig struct {
	Language     string `json:"language,omitempty"`
	Code         string `json:"code,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
	TimeoutSec   int    `json:"timeout,omitempty"`
}

type APIJobConfig struct {
	URL        string                 `json:"url"`
	Method     string                 `json:"method,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Body       map[string]interface{} `json:"body,omitempty"`
	TimeoutSec int                    `json:"timeout,omitempty"`
}

type DBConfig struct {
	Operation string `json:"operation"` // read | write | append
	SubType   string `json:"sub_type,omitempty"`
	File      string `json:"file,omitempty"`
	Format    string `json:"format,omitempty"` // json | text
}

type SubDiagramConfig struct {
	DiagramName         string                 `json:"diagram_name,omitempty"`
	DiagramData         map[string]interface{} `json:"diagram_data,omitempty"`
	InputMapping        map[string]string      `json:"input_mapping,omitempty"`
	OutputMapping       map[string]string      `json:"output_mapping,omitempty"`
	IsolateConversation bool                   `json:"isolate_conversation,omitempty"`
	IgnoreIfSub         bool                   `json:"ignore_if_sub,omitempty"`
	Batch               BatchConfig            `json:"batch,omitempty"`
}

type TemplateJobConfig struct {
	TemplateContent string                 `json:"template_content,omitempty"`
	TemplatePath    string                 `json:"template_path,omitempty"`
	OutputPath      string                 `json:"output_path,omitempty"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
}

type JSONSchemaValidatorConfig struct {
	Schema     map[string]interface{} `json:"json_schema,omitempty"`
	SchemaPath string                 `json:"schema_path,omitempty"`
	DataPath   string                 `json:"data_path,omitempty"`
	StrictMode bool                   `json:"strict_mode,omitempty"`
}

type HookConfig struct {
	HookType   string            `json:"hook_type"` // shell | http
	Command    string            `json:"command,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	TimeoutSec int               `json:"timeout,omitempty"`
}

type UserResponseConfig struct {
	Prompt     string `json:"prompt"`
	TimeoutSec int    `json:"timeout,omitempty"`
}

type TypescriptASTConfig struct {
	Source          string   `json:"source,omitempty"`
	ExtractPatterns []string `json:"extract_patterns,omitempty"`
}

type IntegratedAPIConfig struct {
	Provider   string                 `json:"provider"`
	Operation  string                 `json:"operation"`
	Config     map[string]interface{} `json:"config,omitempty"`
	TimeoutSec int                    `json:"timeout,omitempty"`
}

type IRBuilderConfig struct {
	BuilderType  string `json:"builder_type,omitempty"`
	SourceType   string `json:"source_type,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

type DiffPatchConfig struct {
	TargetPath string `json:"target_path,omitempty"`
	Format     string `json:"format,omitempty"` // jsonpatch | merge
}

func (StartConfig) nodeConfig()               {}
func (EndpointConfig) nodeConfig()            {}
func (PersonJobConfig) nodeConfig()           {}
func (ConditionConfig) nodeConfig()           {}
func (CodeJobConfig) nodeConfig()             {}
func (APIJobConfig) nodeConfig()              {}
func (DBConfig) nodeConfig()                  {}
func (SubDiagramConfig) nodeConfig()          {}
func (TemplateJobConfig) nodeConfig()         {}
func (JSONSchemaValidatorConfig) nodeConfig() {}
func (HookConfig) nodeConfig()                {}
func (UserResponseConfig) nodeConfig()        {}
func (TypescriptASTConfig) nodeConfig()       {}
func (IntegratedAPIConfig) nodeConfig()       {}
func (IRBuilderConfig) nodeConfig()           {}
func (DiffPatchConfig) nodeConfig()           {}

// decodeConfig parses a node's raw data map into its typed config. Unknown
// node types were rejected earlier by validation.
func decodeConfig(nodeType string, data map[string]interface{}) (NodeConfig, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("compile: marshal node data: %w", err)
	}

	decode := func(target NodeConfig) (NodeConfig, error) {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("compile: decode %s config: %w", nodeType, err)
		}
		return target, nil
	}

	switch nodeType {
	case diagram.NodeTypeStart:
		return decode(&StartConfig{})
	case diagram.NodeTypeEndpoint:
		return decode(&EndpointConfig{})
	case diagram.NodeTypePersonJob:
		cfg, err := decode(&PersonJobConfig{})
		if err != nil {
			return nil, err
		}
		pj := cfg.(*PersonJobConfig)
		if pj.MaxIteration <= 0 {
			pj.MaxIteration = 1
		}
		return pj, nil
	case diagram.NodeTypeCondition:
		cfg, err := decode(&ConditionConfig{})
		if err != nil {
			return nil, err
		}
		cc := cfg.(*ConditionConfig)
		switch cc.ConditionType {
		case ConditionTypeCustom, ConditionTypeDetectMaxIteration,
			ConditionTypeNodesExecuted, ConditionTypeLLMDecision:
		case "":
			cc.ConditionType = ConditionTypeCustom
		default:
			return nil, fmt.Errorf("compile: unknown condition_type %q", cc.ConditionType)
		}
		if cc.ConditionType == ConditionTypeCustom && cc.Expression == "" {
			return nil, fmt.Errorf("compile: custom condition requires an expression")
		}
		return cc, nil
	case diagram.NodeTypeCodeJob:
		return decode(&CodeJobConfig{})
	case diagram.NodeTypeAPIJob:
		cfg, err := decode(&APIJobConfig{})
		if err != nil {
			return nil, err
		}
		aj := cfg.(*APIJobConfig)
		if aj.URL == "" {
			return nil, fmt.Errorf("compile: api_job requires a url")
		}
		if aj.Method == "" {
			aj.Method = "GET"
		}
		return aj, nil
	case diagram.NodeTypeDB:
		cfg, err := decode(&DBConfig{})
		if err != nil {
			return nil, err
		}
		db := cfg.(*DBConfig)
		switch db.Operation {
		case "read", "write", "append":
		default:
			return nil, fmt.Errorf("compile: db operation must be read, write or append, got %q", db.Operation)
		}
		return db, nil
	case diagram.NodeTypeSubDiagram:
		cfg, err := decode(&SubDiagramConfig{})
		if err != nil {
			return nil, err
		}
		sd := cfg.(*SubDiagramConfig)
		if sd.DiagramName == "" && sd.DiagramData == nil {
			return nil, fmt.Errorf("compile: sub_diagram requires diagram_name or diagram_data")
		}
		return sd, nil
	case diagram.NodeTypeTemplateJob:
		return decode(&TemplateJobConfig{})
	case diagram.NodeTypeJSONSchemaValidator:
		cfg, err := decode(&JSONSchemaValidatorConfig{})
		if err != nil {
			return nil, err
		}
		js := cfg.(*JSONSchemaValidatorConfig)
		if js.Schema == nil && js.SchemaPath == "" {
			return nil, fmt.Errorf("compile: json_schema_validator requires json_schema or schema_path")
		}
		return js, nil
	case diagram.NodeTypeHook:
		cfg, err := decode(&HookConfig{})
		if err != nil {
			return nil, err
		}
		h := cfg.(*HookConfig)
		switch h.HookType {
		case "shell", "http":
		default:
			return nil, fmt.Errorf("compile: hook_type must be shell or http, got %q", h.HookType)
		}
		return h, nil
	case diagram.NodeTypeUserResponse:
		return decode(&UserResponseConfig{})
	case diagram.NodeTypeTypescriptAST:
		return decode(&TypescriptASTConfig{})
	case diagram.NodeTypeIntegratedAPI:
		cfg, err := decode(&IntegratedAPIConfig{})
		if err != nil {
			return nil, err
		}
		ia := cfg.(*IntegratedAPIConfig)
		if ia.Provider == "" {
			return nil, fmt.Errorf("compile: integrated_api requires a provider")
		}
		return ia, nil
	case diagram.NodeTypeIRBuilder:
		return decode(&IRBuilderConfig{})
	case diagram.NodeTypeDiffPatch:
		cfg, err := decode(&DiffPatchConfig{})
		if err != nil {
			return nil, err
		}
		dp := cfg.(*DiffPatchConfig)
		if dp.Format == "" {
			dp.Format = "jsonpatch"
		}
		return dp, nil
	default:
		return nil, fmt.Errorf("compile: unknown node type %q", nodeType)
	}
}
