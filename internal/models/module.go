package models

// ModuleDependency pins a minimum installed version of another module.
type ModuleDependency struct {
	ModuleName string `json:"module_name" yaml:"module_name"`
	MinVersion string `json:"min_version" yaml:"min_version"`
}

// ModuleDescriptor is the api_module.yaml document shipped with an installable
// module. Exactly these fields are honored; anything else in the file is
// ignored. The module's own version and backend address live in the command
// tree referenced by cli_path.
type ModuleDescriptor struct {
	ModuleName   string             `json:"module_name" yaml:"module_name"`
	CLIPath      string             `json:"cli_path" yaml:"cli_path"`
	MountPoint   string             `json:"mount_point" yaml:"mount_point"`
	Dependencies []ModuleDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Module is an installed module as recorded in the registry: the descriptor
// plus what the command tree declared about itself.
type Module struct {
	ModuleDescriptor
	Version  string `json:"version"`
	BaseURL  string `json:"base_url,omitempty"`
	Commands int    `json:"commands"`
}
