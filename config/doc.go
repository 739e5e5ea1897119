// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 WebTest 服务的统一配置加载。

配置优先级为 默认值 → YAML 文件 → 环境变量，环境变量键由前缀与
结构体 env 标签逐层拼接而成（默认前缀 WEBTEST，如
WEBTEST_SERVER_HTTP_PORT）。Duration 字段接受 time.ParseDuration
语法，字符串切片接受逗号分隔值。

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    WithValidator(func(c *config.Config) error { return c.Validate() }).
	    Load()
*/
package config
