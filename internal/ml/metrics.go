package ml

import "math/rand"

// RetrainF1Threshold: below this measured f1, a retrain is required.
const RetrainF1Threshold = 0.75

// Metrics reports classifier quality on held-out data.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`

	SampleCount    int `json:"sample_count"`
	SyntheticCount int `json:"synthetic_count"`
	TestCount      int `json:"test_count"`
}

// RetrainRequired reports whether the measured f1 calls for a retrain.
func (m Metrics) RetrainRequired() bool {
	return m.F1 < RetrainF1Threshold
}

// evaluate computes metrics at the 0.5 decision threshold.
func evaluate(forest *RandomForest, X [][]float64, y []int) (Metrics, error) {
	var tp, fp, tn, fn float64
	for i, row := range X {
		prob, err := forest.PredictProb(row)
		if err != nil {
			return Metrics{}, err
		}
		predicted := prob >= 0.5
		actual := y[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}

	m := Metrics{TestCount: len(X)}
	total := tp + fp + tn + fn
	if total > 0 {
		m.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// stratifiedSplit shuffles within each class and splits 80/20, preserving
// class proportions in both partitions.
func stratifiedSplit(X [][]float64, y []int, rng *rand.Rand) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	var posIdx, negIdx []int
	for i, label := range y {
		if label == 1 {
			posIdx = append(posIdx, i)
		} else {
			negIdx = append(negIdx, i)
		}
	}
	rng.Shuffle(len(posIdx), func(i, j int) { posIdx[i], posIdx[j] = posIdx[j], posIdx[i] })
	rng.Shuffle(len(negIdx), func(i, j int) { negIdx[i], negIdx[j] = negIdx[j], negIdx[i] })

	take := func(indices []int) {
		cut := len(indices) * 8 / 10
		for _, i := range indices[:cut] {
			trainX = append(trainX, X[i])
			trainY = append(trainY, y[i])
		}
		for _, i := range indices[cut:] {
			testX = append(testX, X[i])
			testY = append(testY, y[i])
		}
	}
	take(posIdx)
	take(negIdx)
	return trainX, trainY, testX, testY
}
