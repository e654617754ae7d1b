package site

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tracker-stats/internal/extract"
)

// Field: одно логическое поле: упорядоченная цепочка правил и признак обязательности.
// Необязательное поле без значения получает значение по умолчанию.
type Field struct {
	Required bool           `yaml:"required"`
	Rules    []extract.Rule `yaml:"rules"`
}

// Definition: декларативное описание сайта на NexusPHP
type Definition struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Timezone string `yaml:"timezone"`
	// Retries: повторы для поиска и вторичных запросов; IndexRetries: для главной страницы
	Retries      int `yaml:"retries"`
	IndexRetries int `yaml:"index_retries"`

	Account AccountDefinition `yaml:"account"`
	Search  SearchDefinition  `yaml:"search"`
}

type AccountDefinition struct {
	Path       string `yaml:"path"`
	Username   Field  `yaml:"username"`
	UserID     Field  `yaml:"user_id"`
	Uploaded   Field  `yaml:"uploaded"`
	Downloaded Field  `yaml:"downloaded"`
	Seeding    Field  `yaml:"seeding"`
	Leeching   Field  `yaml:"leeching"`

	// SeedingPath: фрагмент со списком раздач; {uid} заменяется на id аккаунта
	SeedingPath string `yaml:"seeding_path"`
	// SeedingPattern: регулярка по сырому телу, первая группа: размер ("1.23&nbsp;GB")
	SeedingPattern string `yaml:"seeding_pattern"`
}

type SearchDefinition struct {
	Path string `yaml:"path"`
	// Query: строка запроса в точности как у формы сайта; {keyword} и {scope} подставляются
	Query             string `yaml:"query"`
	ExternalIDPattern string `yaml:"external_id_pattern"`
	ExternalIDScope   string `yaml:"external_id_scope"`
	TitleScope        string `yaml:"title_scope"`

	Rows       string `yaml:"rows"`
	HeaderRows int    `yaml:"header_rows"`

	Title        Field  `yaml:"title"`
	Subtitle     Field  `yaml:"subtitle"`
	Category     Field  `yaml:"category"`
	Link         Field  `yaml:"link"`
	IDPattern    string `yaml:"id_pattern"`
	Seeders      Field  `yaml:"seeders"`
	Leechers     Field  `yaml:"leechers"`
	Completed    Field  `yaml:"completed"`
	Size         Field  `yaml:"size"`
	TimePrecise  Field  `yaml:"time_precise"`
	TimeRelative Field  `yaml:"time_relative"`
	// PublishedRequired: без времени публикации строка считается битой
	PublishedRequired bool   `yaml:"published_required"`
	Tags              string `yaml:"tags"`
}

// Validate проверяет то, без чего движок не сможет собрать запросы
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: base_url must be an absolute URL, got %q", d.ID, d.BaseURL)
	}
	if d.Retries < 0 || d.IndexRetries < 0 {
		return fmt.Errorf("%s: retries must be >= 0", d.ID)
	}
	if d.Account.SeedingPath != "" && !strings.Contains(d.Account.SeedingPath, "{uid}") {
		return fmt.Errorf("%s: account.seeding_path must contain {uid}", d.ID)
	}
	if d.Search.Path == "" {
		return fmt.Errorf("%s: search.path is required", d.ID)
	}
	if !strings.Contains(d.Search.Query, "{keyword}") {
		return fmt.Errorf("%s: search.query must contain {keyword}", d.ID)
	}
	if d.Search.Rows == "" {
		return fmt.Errorf("%s: search.rows is required", d.ID)
	}
	if d.Search.HeaderRows < 0 {
		return fmt.Errorf("%s: search.header_rows must be >= 0", d.ID)
	}
	if d.Search.IDPattern == "" {
		return fmt.Errorf("%s: search.id_pattern is required", d.ID)
	}
	return nil
}

// LoadDefinition читает YAML-определение поверх base (обычно пресета):
// заданные в файле ключи перекрывают значения пресета
func LoadDefinition(filePath string, base Definition) (Definition, error) {
	if filePath == "" {
		return base, fmt.Errorf("definition file path is empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return base, fmt.Errorf("failed to open definition file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close definition file: %v\n", closeErr)
		}
	}()

	def := base
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return base, fmt.Errorf("failed to parse definition YAML: %w", err)
	}
	return def, nil
}
