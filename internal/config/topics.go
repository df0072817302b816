package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic は追跡対象のトピック（ティッカー等）とその検索キーワードを表す。
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// TopicsConfig はトピック定義ファイルの内容を保持する。
// partitionsは検索・ストリーム対象のパーティション（サブフォーラム）一覧。
type TopicsConfig struct {
	Partitions []string `yaml:"partitions"`
	Topics     []Topic  `yaml:"topics"`
}

// LoadTopics はYAMLファイルからトピック定義を読み込む。
// キーワードが未指定のトピックはトピック名自体をキーワードとして扱う。
func LoadTopics(path string) (*TopicsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("トピック定義ファイルの読み込みに失敗しました: %w", err)
	}

	var tc TopicsConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("トピック定義ファイルのパースに失敗しました: %w", err)
	}

	if err := tc.validate(); err != nil {
		return nil, err
	}

	// キーワード未指定の場合はトピック名をキーワードとする
	for i := range tc.Topics {
		if len(tc.Topics[i].Keywords) == 0 {
			tc.Topics[i].Keywords = []string{tc.Topics[i].Name}
		}
	}

	return &tc, nil
}

// validate はトピック定義の内容を検証する。
func (tc *TopicsConfig) validate() error {
	if len(tc.Partitions) == 0 {
		return fmt.Errorf("パーティションが1つも定義されていません")
	}
	if len(tc.Topics) == 0 {
		return fmt.Errorf("トピックが1つも定義されていません")
	}

	seen := make(map[string]bool, len(tc.Topics))
	for _, topic := range tc.Topics {
		name := strings.TrimSpace(topic.Name)
		if name == "" {
			return fmt.Errorf("名前が空のトピックが含まれています")
		}
		if seen[name] {
			return fmt.Errorf("トピック名が重複しています: %s", name)
		}
		seen[name] = true
	}

	for _, p := range tc.Partitions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("名前が空のパーティションが含まれています")
		}
	}

	return nil
}
