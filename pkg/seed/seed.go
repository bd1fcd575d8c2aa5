// Package seed generates demo timeline content for freshly provisioned
// environments. Output depends only on the seed, the authors and the base time.
package seed

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	minPostsPerAuthor = 2
	maxPostsPerAuthor = 4
	spreadDays        = 30
	defaultSpecialty  = "Clínica"
)

// Author is a doctor the generator writes posts for.
type Author struct {
	ID        string
	Name      string
	PicURL    string
	Specialty string
}

// Source is the canonical data LoadAuthors reads.
type Source interface {
	EachEntity(ctx context.Context, t models.EntityType, pageSize int, fn func([]models.Entity) error) error
	EachFact(ctx context.Context, edge models.EdgeType, pageSize int, fn func([]models.RelationshipFact) error) error
}

// LoadAuthors reads every doctor with the name of its primary specialty.
// Doctors without a specialty fall back to general practice.
func LoadAuthors(ctx context.Context, src Source, pageSize int) ([]Author, error) {
	specialties := map[string]string{}
	err := src.EachEntity(ctx, models.EntityTypeSpecialty, pageSize, func(batch []models.Entity) error {
		for _, s := range batch {
			specialties[s.ID] = s.Name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	primary := map[string]string{}
	err = src.EachFact(ctx, models.EdgeSpecializesIn, pageSize, func(batch []models.RelationshipFact) error {
		for _, f := range batch {
			name, ok := specialties[f.To.ID]
			if !ok {
				continue
			}
			isPrimary, _ := f.Attributes["isPrimary"].(bool)
			if _, seen := primary[f.From.ID]; !seen || isPrimary {
				primary[f.From.ID] = name
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var authors []Author
	err = src.EachEntity(ctx, models.EntityTypeDoctor, pageSize, func(batch []models.Entity) error {
		for _, d := range batch {
			pic, _ := d.Attributes["profilePicUrl"].(string)
			specialty := primary[d.ID]
			if specialty == "" {
				specialty = defaultSpecialty
			}
			authors = append(authors, Author{ID: d.ID, Name: d.Name, PicURL: pic, Specialty: specialty})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i].ID < authors[j].ID })
	return authors, nil
}

// Generator produces demo posts. It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Posts writes two to four posts per author, dated within the thirty days
// before base.
func (g *Generator) Posts(authors []Author, base time.Time) ([]models.ContentItem, error) {
	var items []models.ContentItem
	for _, a := range authors {
		pool := append(append([]string{}, templates(a.Specialty)...), generalPosts...)
		g.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

		n := minPostsPerAuthor + g.rng.Intn(maxPostsPerAuthor-minPostsPerAuthor+1)
		for i := 0; i < n && i < len(pool); i++ {
			id, err := uuid.NewRandomFromReader(g.rng)
			if err != nil {
				return nil, err
			}
			age := time.Duration(g.rng.Intn(spreadDays*24*60)) * time.Minute
			items = append(items, models.ContentItem{
				ID:           id.String(),
				AuthorID:     a.ID,
				AuthorName:   a.Name,
				AuthorPicURL: a.PicURL,
				Kind:         models.ContentKindPost,
				Body:         pool[i],
				Tags:         Tags(a.Specialty, pool[i]),
				CreatedAt:    base.Add(-age).UTC().Truncate(time.Millisecond),
			})
		}
	}
	return items, nil
}

func templates(specialty string) []string {
	if posts, ok := postsBySpecialty[specialty]; ok {
		return posts
	}
	return postsBySpecialty[defaultSpecialty]
}

var accents = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e",
	"í", "i", "ì", "i",
	"ó", "o", "ò", "o", "õ", "o", "ô", "o",
	"ú", "u", "ù", "u",
	"ç", "c",
)

var keywordTags = []struct {
	keyword string
	tag     string
}{
	{"evidência", "evidencia"},
	{"protocolo", "protocolo"},
	{"congresso", "congresso"},
	{"pesquisa", "pesquisa"},
	{"inovação", "inovacao"},
	{"diagnóstico", "diagnostico"},
	{"tratamento", "tratamento"},
	{"prevenção", "prevencao"},
	{"caso clínico", "casoclinico"},
	{"uti", "uti"},
	{"cirurgia", "cirurgia"},
	{"inteligência artificial", "ia"},
}

// Tags derives the specialty tag plus any keyword tags found in body.
func Tags(specialty, body string) []string {
	tags := []string{accents.Replace(strings.ToLower(strings.Join(strings.Fields(specialty), "")))}
	lower := strings.ToLower(body)
	for _, kt := range keywordTags {
		if strings.Contains(lower, kt.keyword) && !contains(tags, kt.tag) {
			tags = append(tags, kt.tag)
		}
	}
	return tags
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

var postsBySpecialty = map[string][]string{
	"Cardiologia": {
		"Nova diretriz de insuficiência cardíaca: SGLT2 consolidado como pilar do tratamento, mas a individualização continua sendo chave.",
		"Plantão de 12h na UTI cardíaca: pacientes jovens com FA chegando mais graves. Prevenção primária precisa chegar mais cedo.",
		"Troponina ultrassensível com protocolo 0h/1h ou 0h/2h? Minha experiência com o 0h/1h tem sido excelente no valor preditivo negativo.",
	},
	"Neurologia": {
		"Trombectomia mecânica até 24h em pacientes selecionados: tivemos ótimo resultado ontem com paciente que chegou 19h após o início dos sintomas.",
		"Enxaqueca crônica refratária: antagonistas de CGRP estão mudando a vida dos pacientes. Alguém mais usando na prática?",
		"Miastenia gravis: ptose e diplopia que melhoram com repouso sempre devem acender o alerta. Compartilho nosso protocolo de diagnóstico.",
	},
	"Ortopedia": {
		"Retorno ao esporte após lesão do LCA: priorizo critérios funcionais sobre critérios temporais. O que vocês pensam?",
		"Infiltração guiada por ultrassom no ombro com o dobro de sucesso da infiltração às cegas. Sonografia no consultório virou indispensável.",
		"Fratura por estresse em atletas: carga progressiva, análise biomecânica e suporte nutricional reduzem recidiva.",
	},
	"Pediatria": {
		"Bronquiolite em lactentes: menos intervenção, mais suporte. Resistindo à pressão por broncodilatadores sem evidência.",
		"Família que recusava vacinas saiu hoje com o cartão atualizado depois de uma conversa longa e baseada em evidência.",
		"Casos de coqueluche aumentando. Confirme a dTpa da gestante no terceiro trimestre. Tosse por mais de duas semanas? Investigar!",
	},
	"Psiquiatria": {
		"Burnout atinge boa parte da categoria médica. Precisamos normalizar pedir ajuda. Cuide-se para cuidar melhor.",
		"TDAH no adulto ainda subdiagnosticado. Tratamento multimodal com resultados expressivos.",
		"Psicoterapia online com eficácia comparável à presencial para ansiedade e depressão leve a moderada.",
	},
	"Dermatologia": {
		"Dermatoscopia aumenta muito a sensibilidade no diagnóstico de melanoma. Não normalize mudanças em nevos.",
		"Psoríase moderada a grave: biológicos anti-IL-17 e anti-IL-23 transformaram o prognóstico do tratamento.",
		"Fotoproteção no verão tropical: FPS 50+ de amplo espectro e reaplicação a cada 2h.",
	},
	"Clínica": {
		"Rastreamento de diabetes tipo 2 acima dos 45 anos ou antes com fatores de risco. Prevenção custa menos que complicação.",
		"Polifarmácia no idoso: revisão com critérios de Beers. Tiramos 3 medicamentos de um paciente hoje e ele se sente como novo.",
		"Hipertensão resistente: antes de tudo exclua pseudo-resistência. MAPA de 24h como aliado essencial no diagnóstico.",
	},
}

var generalPosts = []string{
	"Mais um dia de aprendizado. Cada paciente traz um desafio que nos faz crescer.",
	"Conectei hoje um paciente com um especialista da minha rede e ele terá acesso a um tratamento indisponível na cidade dele.",
	"Revisando literatura sobre inteligência artificial no diagnóstico: quanto melhor a ferramenta, mais importa o julgamento clínico.",
	"Congresso da especialidade semana que vem. Vou apresentar dados do nosso protocolo local. Quem mais vai?",
}
