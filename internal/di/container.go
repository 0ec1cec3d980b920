package di

import (
	"go.uber.org/dig"

	"github.com/knowhub/search-go/internal/config"
)

// BuildContainer 构建依赖注入容器并注册全部提供者
func BuildContainer(loader *config.Loader) (*dig.Container, error) {
	container := dig.New()
	if err := RegisterProviders(container, loader); err != nil {
		return nil, err
	}
	return container, nil
}
