package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string   `yaml:"db"`                   // 数据库名
	Col       string   `yaml:"col"`                  // 集合名
	Cache     string   `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool     `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string   `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
	Files     []string `yaml:"files,omitempty"`      // 文件路径列表（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 功能：返回缓存文件的完整路径
// 算法说明：
// 1. 如果指定了缓存路径，直接返回
// 2. 否则使用默认命名规则：{数据库名}.{集合名}.pb
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Input 指定模拟器所有输入数据的配置项
type Input struct {
	URI    string     `yaml:"uri"`              // MongoDB连接字符串
	Map    InputPath  `yaml:"map"`              // 地图
	Person *InputPath `yaml:"person,omitempty"` // 人员
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// SpeedLimitSign 限速牌
type SpeedLimitSign struct {
	Lane  int32   `yaml:"lane"`  // 所在车道ID
	S     float64 `yaml:"s"`     // 车道上的位置
	Limit float64 `yaml:"limit"` // 限速（米/秒）
}

// Control 模拟器控制配置
type Control struct {
	Step               ControlStep      `yaml:"step"`
	EnableTrafficLight bool             `yaml:"enable_traffic_light,omitempty"` // 使用地图中的固定相位信控，否则全部为绿灯
	Seed               uint64           `yaml:"seed,omitempty"`                 // 随机种子偏移
	SpeedLimitSigns    []SpeedLimitSign `yaml:"speed_limit_signs,omitempty"`    // 限速牌
}

// Model 驾驶行为模型配置，名称为空时取默认值
type Model struct {
	CarFollowing    string             `yaml:"car_following,omitempty"`   // idm | idm+ | idm+random
	GapAcceptance   string             `yaml:"gap_acceptance,omitempty"`  // informed | egoistic
	Synchronization string             `yaml:"synchronization,omitempty"` // none | dead-end | passive | align-gap | passive-moving | active
	Cooperation     string             `yaml:"cooperation,omitempty"`     // passive | passive-moving | active
	Incentives      []string           `yaml:"incentives,omitempty"`      // route | speed-with-courtesy | keep | courtesy
	Conflicts       *bool              `yaml:"conflicts,omitempty"`       // 是否考虑冲突区，默认true
	TrafficLights   *bool              `yaml:"traffic_lights,omitempty"`  // 是否响应信号灯，默认true
	Parameters      map[string]float64 `yaml:"parameters,omitempty"`      // 参数覆盖
}

// ConflictsEnabled 是否考虑冲突区
func (m Model) ConflictsEnabled() bool {
	return m.Conflicts == nil || *m.Conflicts
}

// TrafficLightsEnabled 是否响应信号灯
func (m Model) TrafficLightsEnabled() bool {
	return m.TrafficLights == nil || *m.TrafficLights
}

// Config YAML配置文件的根结构
type Config struct {
	Input   Input   `yaml:"input"`           // 输入
	Control Control `yaml:"control"`         // 模拟过程控制
	Model   Model   `yaml:"model,omitempty"` // 驾驶行为模型
}
